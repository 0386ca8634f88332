package d64image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// FileTypes stored in the low nibble of the directory entry type byte.
type FileType byte

const (
	FileTypeDEL FileType = 0
	FileTypeSEQ FileType = 1
	FileTypePRG FileType = 2
	FileTypeUSR FileType = 3
	FileTypeREL FileType = 4
)

var fileTypeNames = map[FileType]string{
	FileTypeDEL: "DEL",
	FileTypeSEQ: "SEQ",
	FileTypePRG: "PRG",
	FileTypeUSR: "USR",
	FileTypeREL: "REL",
}

func (t FileType) String() string {
	if name, ok := fileTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("?%02X", byte(t))
}

// Extension returns the host-side file extension used when extracting a
// file of this type. Unknown types fail rather than guessing.
func (t FileType) Extension() (string, error) {
	switch t {
	case FileTypePRG:
		return ".prg", nil
	case FileTypeSEQ:
		return ".seq", nil
	case FileTypeUSR:
		return ".usr", nil
	case FileTypeREL:
		return ".rel", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFileType, t)
}

// Flag bits in the directory entry type byte.
const (
	flagClosed  = 0x80
	flagLocked  = 0x40
	flagReplace = 0x20
	typeMask    = 0x0F
)

// Directory sectors hold eight 32-byte slots. The first two bytes of the
// sector are the chain link to the next directory sector; each entry's 30
// data bytes start two bytes into its slot, so writing an entry never
// touches the link.
const dirSlotStride = 32

// Offsets within the 30 data bytes of a directory entry.
const (
	entryTypeOffset    = 0x00
	entryStartOffset   = 0x01
	entryNameOffset    = 0x03
	entrySideOffset    = 0x13
	entryRecordOffset  = 0x15
	entryReplaceOffset = 0x1A
	entryBlocksOffset  = 0x1C
)

// DirEntry is a decoded directory entry. The track/sector/index triple
// records where the entry lives in the directory chain so Update can write
// it back in place; the handle is transient and must not be kept across
// operations that reshape the directory.
type DirEntry struct {
	Type      FileType
	Closed    bool
	Locked    bool
	Replacing bool
	Start     TrackSector
	Name      string
	Side      TrackSector
	RecordLen byte
	Replace   TrackSector
	Blocks    uint16

	track, sector, index int
	image                *DiskImage
}

// Deserialize decodes a 32-byte directory entry.
func (e *DirEntry) Deserialize(data []byte) {
	e.Type = FileType(data[entryTypeOffset] & typeMask)
	e.Closed = data[entryTypeOffset]&flagClosed != 0
	e.Locked = data[entryTypeOffset]&flagLocked != 0
	e.Replacing = data[entryTypeOffset]&flagReplace != 0
	e.Start = TrackSector{data[entryStartOffset], data[entryStartOffset+1]}
	e.Name = trimPadding(data[entryNameOffset : entryNameOffset+FileNameSize])
	e.Side = TrackSector{data[entrySideOffset], data[entrySideOffset+1]}
	e.RecordLen = data[entryRecordOffset]
	e.Replace = TrackSector{data[entryReplaceOffset], data[entryReplaceOffset+1]}
	e.Blocks = binary.LittleEndian.Uint16(data[entryBlocksOffset : entryBlocksOffset+2])
}

// Serialize encodes the entry into a 32-byte slice.
func (e *DirEntry) Serialize(data []byte) {
	for i := 0; i < DirEntrySize; i++ {
		data[i] = 0
	}
	typeByte := byte(e.Type) & typeMask
	if e.Closed {
		typeByte |= flagClosed
	}
	if e.Locked {
		typeByte |= flagLocked
	}
	if e.Replacing {
		typeByte |= flagReplace
	}
	data[entryTypeOffset] = typeByte
	data[entryStartOffset] = e.Start.Track
	data[entryStartOffset+1] = e.Start.Sector
	padName(data[entryNameOffset:entryNameOffset+FileNameSize], e.Name)
	data[entrySideOffset] = e.Side.Track
	data[entrySideOffset+1] = e.Side.Sector
	data[entryRecordOffset] = e.RecordLen
	data[entryReplaceOffset] = e.Replace.Track
	data[entryReplaceOffset+1] = e.Replace.Sector
	binary.LittleEndian.PutUint16(data[entryBlocksOffset:entryBlocksOffset+2], e.Blocks)
}

// sameAs compares the stored representation of two entries, ignoring where
// they live in the chain.
func (e *DirEntry) sameAs(other *DirEntry) bool {
	var a, b [DirEntrySize]byte
	e.Serialize(a[:])
	other.Serialize(b[:])
	return bytes.Equal(a[:], b[:])
}

// Update writes the entry back to its slot in the directory chain.
func (e *DirEntry) Update() error {
	if e.image == nil {
		return fmt.Errorf("directory entry is not bound to a disk image")
	}
	slot, err := e.image.entrySlot(e.track, e.sector, e.index)
	if err != nil {
		return err
	}
	e.Serialize(slot)
	return nil
}

// Print dumps the entry to stdout.
func (e *DirEntry) Print() {
	locked := " "
	if e.Locked {
		locked = "<"
	}
	fmt.Printf("%-4d %-18q %s%s\n", e.Blocks, e.Name, e.Type, locked)
}

// entrySlot returns the live 32-byte slice of one directory slot.
func (d *DiskImage) entrySlot(track, sector, index int) ([]byte, error) {
	if index < 0 || index >= FilesPerSector {
		return nil, fmt.Errorf("%w: entry index %d", ErrInvalidLocation, index)
	}
	data, err := d.sectorSlice(track, sector)
	if err != nil {
		return nil, err
	}
	start := 2 + index*dirSlotStride
	return data[start : start+DirEntrySize], nil
}

// dirSectorLink reads the chain link of a directory sector. The terminal
// marker is track 0.
func (d *DiskImage) dirSectorLink(track, sector int) (TrackSector, error) {
	data, err := d.sectorSlice(track, sector)
	if err != nil {
		return TrackSector{}, err
	}
	return TrackSector{data[0], data[1]}, nil
}

// dirSectors returns the directory chain in order, starting at 18/1.
func (d *DiskImage) dirSectors() ([]TrackSector, error) {
	var chain []TrackSector
	ts := TrackSector{DirTrack, DirSector}
	limit := d.TotalSectors()
	for !ts.IsNull() {
		if len(chain) >= limit {
			return nil, fmt.Errorf("%w: directory chain loops", ErrInvalidFormat)
		}
		chain = append(chain, ts)
		next, err := d.dirSectorLink(int(ts.Track), int(ts.Sector))
		if err != nil {
			return nil, err
		}
		ts = next
	}
	return chain, nil
}

// Directory returns all closed entries in chain order.
func (d *DiskImage) Directory() ([]DirEntry, error) {
	chain, err := d.dirSectors()
	if err != nil {
		return nil, err
	}
	var files []DirEntry
	for _, ts := range chain {
		for i := 0; i < FilesPerSector; i++ {
			slot, err := d.entrySlot(int(ts.Track), int(ts.Sector), i)
			if err != nil {
				return nil, err
			}
			var entry DirEntry
			entry.Deserialize(slot)
			if !entry.Closed {
				continue
			}
			entry.track, entry.sector, entry.index = int(ts.Track), int(ts.Sector), i
			entry.image = d
			files = append(files, entry)
		}
	}
	return files, nil
}

// FindFile locates a file by its trimmed name. Duplicate names are allowed
// by the format; the earliest entry in chain order wins.
func (d *DiskImage) FindFile(name string) (*DirEntry, error) {
	chain, err := d.dirSectors()
	if err != nil {
		return nil, err
	}
	for _, ts := range chain {
		for i := 0; i < FilesPerSector; i++ {
			slot, err := d.entrySlot(int(ts.Track), int(ts.Sector), i)
			if err != nil {
				return nil, err
			}
			var entry DirEntry
			entry.Deserialize(slot)
			if !entry.Closed || entry.Name != name {
				continue
			}
			entry.track, entry.sector, entry.index = int(ts.Track), int(ts.Sector), i
			entry.image = d
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
}

// findEmptySlot returns a handle on the first unallocated directory slot,
// growing the chain by one zero-filled sector when every slot is taken.
func (d *DiskImage) findEmptySlot() (*DirEntry, error) {
	chain, err := d.dirSectors()
	if err != nil {
		return nil, err
	}
	for _, ts := range chain {
		for i := 0; i < FilesPerSector; i++ {
			slot, err := d.entrySlot(int(ts.Track), int(ts.Sector), i)
			if err != nil {
				return nil, err
			}
			var entry DirEntry
			entry.Deserialize(slot)
			if entry.Closed {
				continue
			}
			entry.track, entry.sector, entry.index = int(ts.Track), int(ts.Sector), i
			entry.image = d
			return &entry, nil
		}
	}

	// Chain exhausted: grow it by one sector.
	next, err := d.AllocateFreeSector()
	if err != nil {
		return nil, err
	}
	data, _ := d.sectorSlice(int(next.Track), int(next.Sector))
	for i := range data {
		data[i] = 0
	}
	data[1] = 0xFF // chain tail

	tail := chain[len(chain)-1]
	tailData, _ := d.sectorSlice(int(tail.Track), int(tail.Sector))
	tailData[0] = next.Track
	tailData[1] = next.Sector

	entry := &DirEntry{
		track:  int(next.Track),
		sector: int(next.Sector),
		index:  0,
		image:  d,
	}
	return entry, nil
}

// RemoveFile frees every sector of a file's chain and zero-fills its
// directory entry. A sector that is already free is skipped, not fatal;
// the integrity pass reconciles such drift.
func (d *DiskImage) RemoveFile(name string) error {
	entry, err := d.FindFile(name)
	if err != nil {
		return err
	}
	sectors, err := d.fileSectors(entry)
	if err != nil {
		return err
	}
	for _, ts := range sectors {
		if err := d.MarkSectorFree(int(ts.Track), int(ts.Sector)); err != nil {
			// Already free or reserved; the verifier cleans this up.
			continue
		}
	}
	slot, err := d.entrySlot(entry.track, entry.sector, entry.index)
	if err != nil {
		return err
	}
	for i := range slot {
		slot[i] = 0
	}
	return nil
}

// RenameFile changes a file's name in place.
func (d *DiskImage) RenameFile(oldName, newName string) error {
	entry, err := d.FindFile(oldName)
	if err != nil {
		return err
	}
	entry.Name = newName
	return entry.Update()
}

// LockFile sets the lock bit on a file.
func (d *DiskImage) LockFile(name string) error {
	return d.setLock(name, true)
}

// UnlockFile clears the lock bit on a file.
func (d *DiskImage) UnlockFile(name string) error {
	return d.setLock(name, false)
}

func (d *DiskImage) setLock(name string, locked bool) error {
	entry, err := d.FindFile(name)
	if err != nil {
		return err
	}
	entry.Locked = locked
	return entry.Update()
}

// ReorderDirectory rewrites the directory so the named files appear in the
// given order. Names not present on the disk are ignored; files not named
// keep their relative order and are appended at the end. Returns false
// without writing when the directory is already in the requested order.
func (d *DiskImage) ReorderDirectory(fileOrder []string) (bool, error) {
	files, err := d.Directory()
	if err != nil {
		return false, err
	}
	var reordered []DirEntry
	remaining := files
	for _, name := range fileOrder {
		for i := range remaining {
			if remaining[i].Name == name {
				reordered = append(reordered, remaining[i])
				remaining = append(remaining[:i:i], remaining[i+1:]...)
				break
			}
		}
	}
	reordered = append(reordered, remaining...)
	return d.writeDirectoryOrder(reordered)
}

// ReorderDirectoryFunc sorts the directory with an arbitrary comparator.
func (d *DiskImage) ReorderDirectoryFunc(less func(a, b *DirEntry) bool) (bool, error) {
	files, err := d.Directory()
	if err != nil {
		return false, err
	}
	if len(files) == 0 {
		return false, nil
	}
	sort.SliceStable(files, func(i, j int) bool {
		return less(&files[i], &files[j])
	})
	return d.writeDirectoryOrder(files)
}

// MoveFileFirst moves a file to the top of the directory.
func (d *DiskImage) MoveFileFirst(name string) (bool, error) {
	files, err := d.Directory()
	if err != nil {
		return false, err
	}
	pos := -1
	for i := range files {
		if files[i].Name == name {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if pos == 0 {
		return false, nil
	}
	files[0], files[pos] = files[pos], files[0]
	return d.writeDirectoryOrder(files)
}

// MoveFile swaps a file with its neighbor above (up) or below (down).
// Moving past either end is a no-op.
func (d *DiskImage) MoveFile(name string, up bool) (bool, error) {
	files, err := d.Directory()
	if err != nil {
		return false, err
	}
	pos := -1
	for i := range files {
		if files[i].Name == name {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if (up && pos == 0) || (!up && pos == len(files)-1) {
		return false, nil
	}
	other := pos + 1
	if up {
		other = pos - 1
	}
	files[pos], files[other] = files[other], files[pos]
	return d.writeDirectoryOrder(files)
}

// writeDirectoryOrder rewrites the entry slots of the existing chain in the
// given order, preserving the chain links. Entry contents never change,
// only their position. Skips all writes when the order already matches.
func (d *DiskImage) writeDirectoryOrder(files []DirEntry) (bool, error) {
	current, err := d.Directory()
	if err != nil {
		return false, err
	}
	if len(current) == len(files) {
		same := true
		for i := range files {
			if !files[i].sameAs(&current[i]) {
				same = false
				break
			}
		}
		if same {
			return false, nil
		}
	}

	chain, err := d.dirSectors()
	if err != nil {
		return false, err
	}
	index := 0
	for _, ts := range chain {
		for i := 0; i < FilesPerSector; i++ {
			slot, err := d.entrySlot(int(ts.Track), int(ts.Sector), i)
			if err != nil {
				return false, err
			}
			if index < len(files) {
				files[index].Serialize(slot)
				index++
			} else {
				for b := range slot {
					slot[b] = 0
				}
			}
		}
	}
	if index < len(files) {
		return false, fmt.Errorf("directory chain too short for %d entries", len(files))
	}
	return true, nil
}

// CompactDirectory packs all closed entries densely from the head of the
// chain and frees the trailing directory sectors left empty, keeping the
// permanently reserved first sector. Returns whether anything changed.
func (d *DiskImage) CompactDirectory() (bool, error) {
	files, err := d.Directory()
	if err != nil {
		return false, err
	}
	chain, err := d.dirSectors()
	if err != nil {
		return false, err
	}

	needed := (len(files) + FilesPerSector - 1) / FilesPerSector
	if needed == 0 {
		needed = 1
	}
	if needed > len(chain) {
		needed = len(chain)
	}

	changed := false
	index := 0
	for _, ts := range chain[:needed] {
		for i := 0; i < FilesPerSector; i++ {
			slot, err := d.entrySlot(int(ts.Track), int(ts.Sector), i)
			if err != nil {
				return false, err
			}
			var want [DirEntrySize]byte
			if index < len(files) {
				files[index].Serialize(want[:])
				index++
			}
			if !bytes.Equal(slot, want[:]) {
				copy(slot, want[:])
				changed = true
			}
		}
	}

	if needed < len(chain) {
		// Terminate the chain at the last sector still in use, then free
		// the rest.
		tailData, _ := d.sectorSlice(int(chain[needed-1].Track), int(chain[needed-1].Sector))
		tailData[0] = 0
		tailData[1] = 0xFF
		for _, ts := range chain[needed:] {
			if err := d.MarkSectorFree(int(ts.Track), int(ts.Sector)); err != nil {
				continue
			}
			changed = true
		}
	}
	return changed, nil
}
