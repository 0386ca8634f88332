package d64image

import "fmt"

// REL files reach their data through side sectors: index sectors holding a
// chain of pointers to record sectors. Every side sector mirrors the
// locations of all of its siblings so the whole index can be validated from
// any entry point. Each record occupies its own data sector, stored from
// offset 0 with the remainder zeroed; the record length lives in the side
// sectors and the directory entry, not in the data chain.
const (
	// MaxSideSectors is the format limit of index sectors per REL file.
	MaxSideSectors = 6

	sideHeaderSize = 16
	// SideSectorChainSize is the number of record pointers per side sector.
	SideSectorChainSize = (SectorSize - sideHeaderSize) / 2

	// MaxRelRecords is the record capacity of a fully indexed REL file.
	MaxRelRecords = MaxSideSectors * SideSectorChainSize
)

// Side sector byte layout.
const (
	sideNextOffset   = 0x00
	sideBlockOffset  = 0x02
	sideRecordOffset = 0x03
	sideTableOffset  = 0x04
	sideChainOffset  = sideHeaderSize
)

// SideSector is a decoded REL index sector.
type SideSector struct {
	Next      TrackSector
	Block     byte
	RecordLen byte
	SideTable [MaxSideSectors]TrackSector
	Chain     []TrackSector
}

// Deserialize decodes a 256-byte side sector. The chain stops at the first
// null pointer.
func (s *SideSector) Deserialize(data []byte) {
	s.Next = TrackSector{data[sideNextOffset], data[sideNextOffset+1]}
	s.Block = data[sideBlockOffset]
	s.RecordLen = data[sideRecordOffset]
	for i := 0; i < MaxSideSectors; i++ {
		s.SideTable[i] = TrackSector{data[sideTableOffset+2*i], data[sideTableOffset+2*i+1]}
	}
	s.Chain = s.Chain[:0]
	for i := 0; i < SideSectorChainSize; i++ {
		ts := TrackSector{data[sideChainOffset+2*i], data[sideChainOffset+2*i+1]}
		if ts.IsNull() {
			break
		}
		s.Chain = append(s.Chain, ts)
	}
}

// Serialize encodes the side sector into a 256-byte slice, zeroing unused
// chain slots.
func (s *SideSector) Serialize(data []byte) {
	for i := range data[:SectorSize] {
		data[i] = 0
	}
	data[sideNextOffset] = s.Next.Track
	data[sideNextOffset+1] = s.Next.Sector
	data[sideBlockOffset] = s.Block
	data[sideRecordOffset] = s.RecordLen
	for i := 0; i < MaxSideSectors; i++ {
		data[sideTableOffset+2*i] = s.SideTable[i].Track
		data[sideTableOffset+2*i+1] = s.SideTable[i].Sector
	}
	for i, ts := range s.Chain {
		data[sideChainOffset+2*i] = ts.Track
		data[sideChainOffset+2*i+1] = ts.Sector
	}
}

// AddRELFile writes a fixed-record-length file through a side-sector index
// and creates its directory entry. Both the entry's start pointer and its
// side pointer reference the first side sector.
func (d *DiskImage) AddRELFile(name string, recordLen byte, fileData []byte) error {
	if recordLen == 0 {
		return fmt.Errorf("%w: record length 0", ErrInvalidRelStructure)
	}

	records := (len(fileData) + int(recordLen) - 1) / int(recordLen)
	if records > MaxRelRecords {
		return fmt.Errorf("%w: %d records exceeds REL capacity of %d", ErrDiskFull, records, MaxRelRecords)
	}
	sides := (records + SideSectorChainSize - 1) / SideSectorChainSize
	if sides == 0 {
		sides = 1
	}
	if d.FreeSectorCount() < records+sides {
		return fmt.Errorf("%w: %d sectors needed for %q", ErrDiskFull, records+sides, name)
	}

	firstSide, err := d.AllocateFreeSector()
	if err != nil {
		return fmt.Errorf("%w: unable to add %q", ErrDiskFull, name)
	}
	sideLocs := []TrackSector{firstSide}
	sideSectors := []*SideSector{{Block: 0, RecordLen: recordLen}}

	for r := 0; r < records; r++ {
		current := sideSectors[len(sideSectors)-1]
		if len(current.Chain) == SideSectorChainSize {
			next, err := d.AllocateFreeSector()
			if err != nil {
				return fmt.Errorf("%w: unable to add %q", ErrDiskFull, name)
			}
			current.Next = next
			current = &SideSector{Block: byte(len(sideSectors)), RecordLen: recordLen}
			sideLocs = append(sideLocs, next)
			sideSectors = append(sideSectors, current)
		}

		dataSector, err := d.AllocateFreeSector()
		if err != nil {
			return fmt.Errorf("%w: unable to add %q", ErrDiskFull, name)
		}
		sector, err := d.sectorSlice(int(dataSector.Track), int(dataSector.Sector))
		if err != nil {
			return err
		}
		start := r * int(recordLen)
		end := start + int(recordLen)
		if end > len(fileData) {
			end = len(fileData)
		}
		n := copy(sector, fileData[start:end])
		for i := n; i < SectorSize; i++ {
			sector[i] = 0
		}
		current.Chain = append(current.Chain, dataSector)
	}

	// Mirror the full side-sector table into every side sector, then write
	// them out. Readers rely on all copies agreeing.
	var table [MaxSideSectors]TrackSector
	copy(table[:], sideLocs)
	for i, side := range sideSectors {
		side.SideTable = table
		sector, err := d.sectorSlice(int(sideLocs[i].Track), int(sideLocs[i].Sector))
		if err != nil {
			return err
		}
		side.Serialize(sector)
	}

	entry, err := d.findEmptySlot()
	if err != nil {
		return err
	}
	entry.Type = FileTypeREL
	entry.Closed = true
	entry.Start = firstSide
	entry.Name = name
	entry.Side = firstSide
	entry.RecordLen = recordLen
	entry.Replace = firstSide
	entry.Blocks = uint16(records + sides)
	return entry.Update()
}

// readRELData reads a REL file back as the concatenation of its records in
// side-chain order. Trailing pad bytes inside the last record are returned
// verbatim; callers that know the true length must trim.
func (d *DiskImage) readRELData(entry *DirEntry) ([]byte, error) {
	if entry.Type != FileTypeREL {
		return nil, fmt.Errorf("%w: %q is %s", ErrNotRelFile, entry.Name, entry.Type)
	}
	if entry.RecordLen == 0 {
		return nil, fmt.Errorf("%w: record length 0", ErrInvalidRelStructure)
	}

	sides, err := d.sideSectorChain(entry.Side)
	if err != nil {
		return nil, err
	}

	var fileData []byte
	var side SideSector
	for _, loc := range sides {
		sector, err := d.sectorSlice(int(loc.Track), int(loc.Sector))
		if err != nil {
			return nil, err
		}
		side.Deserialize(sector)
		for _, ts := range side.Chain {
			record, err := d.sectorSlice(int(ts.Track), int(ts.Sector))
			if err != nil {
				return nil, err
			}
			fileData = append(fileData, record[:entry.RecordLen]...)
		}
	}
	return fileData, nil
}

// sideSectorChain walks the side-sector links from the given start.
func (d *DiskImage) sideSectorChain(start TrackSector) ([]TrackSector, error) {
	var sides []TrackSector
	current := start
	for !current.IsNull() {
		if len(sides) >= MaxSideSectors {
			return nil, fmt.Errorf("%w: side sector chain exceeds %d", ErrInvalidRelStructure, MaxSideSectors)
		}
		sides = append(sides, current)
		sector, err := d.sectorSlice(int(current.Track), int(current.Sector))
		if err != nil {
			return nil, err
		}
		current = TrackSector{sector[sideNextOffset], sector[sideNextOffset+1]}
	}
	if len(sides) == 0 {
		return nil, fmt.Errorf("%w: no side sectors", ErrInvalidRelStructure)
	}
	return sides, nil
}

// relSectors lists every sector owned by a REL entry: the side sectors and
// each record sector they reference.
func (d *DiskImage) relSectors(entry *DirEntry) ([]TrackSector, error) {
	sides, err := d.sideSectorChain(entry.Side)
	if err != nil {
		return nil, err
	}
	sectors := append([]TrackSector{}, sides...)
	var side SideSector
	for _, loc := range sides {
		sector, err := d.sectorSlice(int(loc.Track), int(loc.Sector))
		if err != nil {
			return nil, err
		}
		side.Deserialize(sector)
		sectors = append(sectors, side.Chain...)
	}
	return sectors, nil
}
