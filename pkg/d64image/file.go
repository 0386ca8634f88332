package d64image

import (
	"fmt"
	"os"
)

// Chain sectors carry a two-byte link followed by 254 payload bytes. The
// final sector's link track is 0 and its link sector holds the count of
// valid payload bytes instead of a sector number.
const chainPayload = SectorSize - 2

// AddFile writes a file as a chain of data sectors and creates a closed
// directory entry for it. REL files carry a side-sector index and must go
// through AddRELFile instead. The format permits duplicate names; AddFile
// does not reject them, and lookups resolve to the earliest entry.
//
// A disk-full failure partway through leaves the already-written sectors
// allocated with no directory entry referencing them; the integrity pass
// reclaims such orphans.
func (d *DiskImage) AddFile(name string, fileType FileType, fileData []byte) error {
	if fileType == FileTypeREL {
		return fmt.Errorf("%w: record length required, use AddRELFile", ErrInvalidRelStructure)
	}

	needed := (len(fileData) + chainPayload - 1) / chainPayload
	if needed == 0 {
		// A zero-length file still occupies one terminal sector.
		needed = 1
	}
	if d.FreeSectorCount() < needed {
		return fmt.Errorf("%w: %d sectors needed for %q", ErrDiskFull, needed, name)
	}

	start, err := d.AllocateFreeSector()
	if err != nil {
		return fmt.Errorf("%w: unable to add %q", ErrDiskFull, name)
	}

	current := start
	offset := 0
	for {
		data, err := d.sectorSlice(int(current.Track), int(current.Sector))
		if err != nil {
			return err
		}
		remaining := len(fileData) - offset
		if remaining > chainPayload {
			next, err := d.AllocateFreeSector()
			if err != nil {
				return fmt.Errorf("%w: unable to add %q", ErrDiskFull, name)
			}
			data[0] = next.Track
			data[1] = next.Sector
			copy(data[2:], fileData[offset:offset+chainPayload])
			offset += chainPayload
			current = next
			continue
		}
		// Terminal sector: the link sector byte carries the payload length.
		data[0] = 0
		data[1] = byte(remaining)
		copy(data[2:], fileData[offset:])
		for i := 2 + remaining; i < SectorSize; i++ {
			data[i] = 0
		}
		break
	}

	entry, err := d.findEmptySlot()
	if err != nil {
		return err
	}
	entry.Type = fileType
	entry.Closed = true
	entry.Start = start
	entry.Name = name
	entry.Side = TrackSector{}
	entry.RecordLen = 0
	entry.Replace = start
	entry.Blocks = uint16(needed)
	return entry.Update()
}

// ReadFile returns a file's content by name. REL entries are read through
// their side-sector index; everything else walks the data chain.
func (d *DiskImage) ReadFile(name string) ([]byte, error) {
	entry, err := d.FindFile(name)
	if err != nil {
		return nil, err
	}
	return d.ReadEntry(entry)
}

// ReadEntry returns the content of a located directory entry.
func (d *DiskImage) ReadEntry(entry *DirEntry) ([]byte, error) {
	if entry.Type == FileTypeREL {
		return d.readRELData(entry)
	}
	return d.readChain(entry.Start)
}

// readChain collects the payload of a sector chain. Non-terminal sectors
// contribute all 254 payload bytes; the terminal sector contributes only
// the count stored in its link sector byte.
func (d *DiskImage) readChain(start TrackSector) ([]byte, error) {
	var fileData []byte
	current := start
	visited := 0
	limit := d.TotalSectors()
	for !current.IsNull() {
		if visited >= limit {
			return nil, fmt.Errorf("%w: sector chain loops", ErrInvalidFormat)
		}
		visited++
		data, err := d.sectorSlice(int(current.Track), int(current.Sector))
		if err != nil {
			return nil, err
		}
		next := TrackSector{data[0], data[1]}
		if next.IsNull() {
			count := int(next.Sector)
			if count > chainPayload {
				count = chainPayload
			}
			fileData = append(fileData, data[2:2+count]...)
		} else {
			fileData = append(fileData, data[2:]...)
		}
		current = next
	}
	return fileData, nil
}

// chainSectors lists every sector of a chain, in order.
func (d *DiskImage) chainSectors(start TrackSector) ([]TrackSector, error) {
	var sectors []TrackSector
	current := start
	limit := d.TotalSectors()
	for !current.IsNull() {
		if len(sectors) >= limit {
			return nil, fmt.Errorf("%w: sector chain loops", ErrInvalidFormat)
		}
		sectors = append(sectors, current)
		data, err := d.sectorSlice(int(current.Track), int(current.Sector))
		if err != nil {
			return nil, err
		}
		current = TrackSector{data[0], data[1]}
	}
	return sectors, nil
}

// fileSectors lists every sector owned by a directory entry, including a
// REL file's side sectors and record sectors.
func (d *DiskImage) fileSectors(entry *DirEntry) ([]TrackSector, error) {
	if entry.Type == FileTypeREL {
		return d.relSectors(entry)
	}
	return d.chainSectors(entry.Start)
}

// ExtractFile writes a file to the host filesystem under its own name plus
// the extension derived from its stored type. Types with no extension
// mapping fail rather than guessing.
func (d *DiskImage) ExtractFile(name string) error {
	entry, err := d.FindFile(name)
	if err != nil {
		return err
	}
	ext, err := entry.Type.Extension()
	if err != nil {
		return err
	}
	fileData, err := d.ReadEntry(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(name+ext, fileData, 0644)
}
