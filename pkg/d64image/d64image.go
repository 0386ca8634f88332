// Package d64image reads, creates and modifies Commodore 1541 .d64 disk
// images. The image is held as a flat byte buffer; every structure (BAM,
// directory, file chains, side sectors) is decoded from and encoded to
// fixed offsets inside that buffer so that saved images stay byte-exact.
package d64image

import (
	"fmt"
	"io"
	"os"
)

const (
	SectorSize     = 256
	DiskNameSize   = 16
	FileNameSize   = 16
	DirEntrySize   = 30
	FilesPerSector = 8

	DirTrack  = 18
	DirSector = 1
	BAMSector = 0

	Tracks35 = 35
	Tracks40 = 40

	Disk35Size = 174848
	Disk40Size = 196608

	// PadByte right-pads disk and file names.
	PadByte = 0xA0

	dosVersion = 'A'
	dosType    = '2'
	fillByte   = 0x01
)

// DiskType selects one of the two supported geometries.
type DiskType int

const (
	Disk35Track DiskType = iota
	Disk40Track
)

// TrackSector is the two-byte pointer used throughout the format.
// Track 0 marks the end of a chain.
type TrackSector struct {
	Track  byte
	Sector byte
}

// IsNull reports whether this reference is a chain terminator.
func (ts TrackSector) IsNull() bool {
	return ts.Track == 0
}

func (ts TrackSector) String() string {
	return fmt.Sprintf("%d/%d", ts.Track, ts.Sector)
}

// sectorsPerTrack is indexed by 1-based track number. Outer tracks hold
// more sectors than inner ones; tracks 36-40 exist only on 40-track disks.
var sectorsPerTrack = [Tracks40 + 1]int{
	0,
	21, 21, 21, 21, 21, 21, 21, 21, 21, 21, 21, 21, 21, 21, 21, 21, 21, // 1-17
	19, 19, 19, 19, 19, 19, 19, // 18-24
	18, 18, 18, 18, 18, 18, // 25-30
	17, 17, 17, 17, 17, // 31-35
	17, 17, 17, 17, 17, // 36-40
}

// trackOffset holds the byte offset of each track's first sector.
var trackOffset [Tracks40 + 1]int

func init() {
	offset := 0
	for t := 1; t <= Tracks40; t++ {
		trackOffset[t] = offset
		offset += sectorsPerTrack[t] * SectorSize
	}
}

// SectorsOnTrack returns the sector count of a track, or 0 for an
// invalid track number.
func SectorsOnTrack(track int) int {
	if track < 1 || track > Tracks40 {
		return 0
	}
	return sectorsPerTrack[track]
}

// DiskImage is a single .d64 image. It owns its buffer exclusively; all
// accessors copy data in and out rather than aliasing it.
type DiskImage struct {
	data     []byte
	diskType DiskType
	tracks   int

	// lastSectorUsed is the per-track allocation cursor. -1 means no
	// sector has been handed out on that track yet.
	lastSectorUsed [Tracks40 + 1]int
}

// NewDiskImage creates a freshly formatted blank disk named "NEW DISK".
func NewDiskImage(diskType DiskType) *DiskImage {
	d := &DiskImage{diskType: diskType}
	if diskType == Disk40Track {
		d.tracks = Tracks40
		d.data = make([]byte, Disk40Size)
	} else {
		d.tracks = Tracks35
		d.data = make([]byte, Disk35Size)
	}
	d.Format("NEW DISK")
	return d
}

// Type returns the geometry variant of this image.
func (d *DiskImage) Type() DiskType {
	return d.diskType
}

// Tracks returns the track count of this image.
func (d *DiskImage) Tracks() int {
	return d.tracks
}

// Size returns the image size in bytes.
func (d *DiskImage) Size() int {
	return len(d.data)
}

// TotalSectors returns the number of sectors on the disk.
func (d *DiskImage) TotalSectors() int {
	total := 0
	for t := 1; t <= d.tracks; t++ {
		total += sectorsPerTrack[t]
	}
	return total
}

// offsetOf maps a track/sector pair to a byte offset inside the buffer.
// Tracks are 1-based, sectors 0-based.
func (d *DiskImage) offsetOf(track, sector int) (int, error) {
	if track < 1 || track > d.tracks || sector < 0 || sector >= sectorsPerTrack[track] {
		return 0, fmt.Errorf("%w: track %d sector %d", ErrInvalidLocation, track, sector)
	}
	return trackOffset[track] + sector*SectorSize, nil
}

// ValidLocation reports whether the track/sector pair exists on this disk.
func (d *DiskImage) ValidLocation(track, sector int) bool {
	_, err := d.offsetOf(track, sector)
	return err == nil
}

// ReadByte reads one byte at the given offset within a sector.
func (d *DiskImage) ReadByte(track, sector, offset int) (byte, error) {
	index, err := d.offsetOf(track, sector)
	if err != nil {
		return 0, err
	}
	if offset < 0 || offset >= SectorSize {
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidLocation, offset)
	}
	return d.data[index+offset], nil
}

// WriteByte writes one byte at the given offset within a sector.
func (d *DiskImage) WriteByte(track, sector, offset int, value byte) error {
	index, err := d.offsetOf(track, sector)
	if err != nil {
		return err
	}
	if offset < 0 || offset >= SectorSize {
		return fmt.Errorf("%w: offset %d", ErrInvalidLocation, offset)
	}
	d.data[index+offset] = value
	return nil
}

// ReadSector returns a copy of one full sector.
func (d *DiskImage) ReadSector(track, sector int) ([]byte, error) {
	index, err := d.offsetOf(track, sector)
	if err != nil {
		return nil, err
	}
	bytes := make([]byte, SectorSize)
	copy(bytes, d.data[index:index+SectorSize])
	return bytes, nil
}

// WriteSector overwrites one full sector. The slice must hold exactly
// SectorSize bytes.
func (d *DiskImage) WriteSector(track, sector int, bytes []byte) error {
	if len(bytes) != SectorSize {
		return fmt.Errorf("%w: sector write requires %d bytes, got %d", ErrInvalidLocation, SectorSize, len(bytes))
	}
	index, err := d.offsetOf(track, sector)
	if err != nil {
		return err
	}
	copy(d.data[index:index+SectorSize], bytes)
	return nil
}

// sectorSlice returns the live buffer slice for a sector. Internal use
// only; the slice must not outlive the current operation.
func (d *DiskImage) sectorSlice(track, sector int) ([]byte, error) {
	index, err := d.offsetOf(track, sector)
	if err != nil {
		return nil, err
	}
	return d.data[index : index+SectorSize], nil
}

// Format wipes the disk to the fill pattern and reinitializes the BAM and
// the directory under the given disk name.
func (d *DiskImage) Format(name string) {
	for i := range d.data {
		d.data[i] = fillByte
	}
	for t := range d.lastSectorUsed {
		d.lastSectorUsed[t] = -1
	}
	d.initBAM(name)
}

// DiskName returns the disk name with the 0xA0 padding stripped.
func (d *DiskImage) DiskName() string {
	offset, _ := d.offsetOf(DirTrack, BAMSector)
	return trimPadding(d.data[offset+bamDiskNameOffset : offset+bamDiskNameOffset+DiskNameSize])
}

// RenameDisk sets a new disk name, right-padded with 0xA0.
func (d *DiskImage) RenameDisk(name string) {
	offset, _ := d.offsetOf(DirTrack, BAMSector)
	padName(d.data[offset+bamDiskNameOffset:offset+bamDiskNameOffset+DiskNameSize], name)
}

// ReadFrom replaces the image with the full contents of r. The geometry is
// chosen strictly from the byte count; any other length fails. A readable
// image that fails structural validation is replaced with a freshly
// formatted blank disk instead of surfacing an error.
func ReadFrom(r io.Reader) (*DiskImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	d := &DiskImage{data: data}
	switch len(data) {
	case Disk35Size:
		d.diskType = Disk35Track
		d.tracks = Tracks35
	case Disk40Size:
		d.diskType = Disk40Track
		d.tracks = Tracks40
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidFormat, len(data))
	}
	for t := range d.lastSectorUsed {
		d.lastSectorUsed[t] = -1
	}
	if !d.validate() {
		d.Format("NEW DISK")
	}
	return d, nil
}

// Load reads a .d64 image from a file.
func Load(fileName string) (*DiskImage, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFrom(f)
}

// WriteTo writes the raw image buffer verbatim.
func (d *DiskImage) WriteTo(w io.Writer) error {
	n, err := w.Write(d.data)
	if err != nil {
		return err
	}
	if n != len(d.data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(d.data))
	}
	return nil
}

// Save writes the image to a file.
func (d *DiskImage) Save(fileName string) error {
	return os.WriteFile(fileName, d.data, 0644)
}

// validate performs the structural checks done on load: the BAM must point
// at the directory start, and the first directory sector's link must be
// either a valid continuation or the terminal marker.
func (d *DiskImage) validate() bool {
	bamOffset, err := d.offsetOf(DirTrack, BAMSector)
	if err != nil {
		return false
	}
	if d.data[bamOffset] != DirTrack || d.data[bamOffset+1] != DirSector {
		return false
	}
	next, err := d.dirSectorLink(DirTrack, DirSector)
	if err != nil {
		return false
	}
	if next.IsNull() {
		return true
	}
	return d.ValidLocation(int(next.Track), int(next.Sector))
}

// trimPadding decodes a 0xA0 padded name field.
func trimPadding(data []byte) string {
	end := len(data)
	for end > 0 && data[end-1] == PadByte {
		end--
	}
	return string(data[:end])
}

// padName encodes a name into a fixed-width field, truncating and
// right-padding with 0xA0.
func padName(data []byte, name string) {
	if len(name) > len(data) {
		name = name[:len(data)]
	}
	copy(data, name)
	for i := len(name); i < len(data); i++ {
		data[i] = PadByte
	}
}
