package d64image

import "fmt"

// BAM byte layout within sector 18/0. Track entries are four bytes each:
// a free-sector count followed by a three-byte bitmap, bit set = free.
// Entries for tracks 1-35 start at 0x04; on 40-track disks the entries for
// tracks 36-40 follow the Dolphin DOS convention and live at 0xAC.
const (
	bamDirStartOffset   = 0x00
	bamDOSVersionOffset = 0x02
	bamTrackOffset      = 0x04
	bamDiskNameOffset   = 0x90
	bamPadOffset        = 0xA0
	bamDiskIDOffset     = 0xA2
	bamDOSTypeOffset    = 0xA5
	bamExtraTrackOffset = 0xAC

	bamEntrySize = 4
)

// BAM is a decoded view of the allocation map sector. It is a snapshot;
// mutations go through the DiskImage primitives, which keep the bitmap and
// the cached free counts synchronized.
type BAM struct {
	DirStart   TrackSector
	DOSVersion byte
	DiskName   string
	DiskID     [2]byte
	DOSType    [2]byte
	Entries    []BAMTrackEntry
}

// BAMTrackEntry is one track's allocation record.
type BAMTrackEntry struct {
	Free byte
	Bits [3]byte
}

// IsFree tests the bitmap bit for a sector on this track.
func (e *BAMTrackEntry) IsFree(sector int) bool {
	return e.Bits[sector/8]&(1<<(sector%8)) != 0
}

// GetBAM decodes the BAM sector into a snapshot view.
func (d *DiskImage) GetBAM() *BAM {
	offset, _ := d.offsetOf(DirTrack, BAMSector)
	data := d.data[offset : offset+SectorSize]

	bam := &BAM{
		DirStart:   TrackSector{data[bamDirStartOffset], data[bamDirStartOffset+1]},
		DOSVersion: data[bamDOSVersionOffset],
		DiskName:   trimPadding(data[bamDiskNameOffset : bamDiskNameOffset+DiskNameSize]),
		Entries:    make([]BAMTrackEntry, d.tracks),
	}
	copy(bam.DiskID[:], data[bamDiskIDOffset:bamDiskIDOffset+2])
	copy(bam.DOSType[:], data[bamDOSTypeOffset:bamDOSTypeOffset+2])
	for t := 1; t <= d.tracks; t++ {
		entry := data[d.bamEntryOffset(t)-offset:]
		bam.Entries[t-1].Free = entry[0]
		copy(bam.Entries[t-1].Bits[:], entry[1:4])
	}
	return bam
}

// Print dumps the decoded BAM to stdout.
func (b *BAM) Print() {
	fmt.Printf("Disk name: %s\n", b.DiskName)
	fmt.Printf("Disk id: %c%c\n", b.DiskID[0], b.DiskID[1])
	fmt.Printf("DOS: %c%c\n", b.DOSType[0], b.DOSType[1])
	fmt.Printf("Directory: %s\n", b.DirStart)
	for t, entry := range b.Entries {
		fmt.Printf("Track %2d: %2d free  ", t+1, entry.Free)
		for s := 0; s < SectorsOnTrack(t+1); s++ {
			if entry.IsFree(s) {
				fmt.Print(".")
			} else {
				fmt.Print("*")
			}
		}
		fmt.Println()
	}
}

// bamEntryOffset returns the absolute buffer offset of the BAM entry for a
// track. The caller must pass a valid track number.
func (d *DiskImage) bamEntryOffset(track int) int {
	offset, _ := d.offsetOf(DirTrack, BAMSector)
	if track <= Tracks35 {
		return offset + bamTrackOffset + bamEntrySize*(track-1)
	}
	return offset + bamExtraTrackOffset + bamEntrySize*(track-Tracks35-1)
}

// initBAM rebuilds the BAM sector and the first directory sector from
// scratch. Every sector starts free, then the BAM sector and the first
// directory sector are reserved.
func (d *DiskImage) initBAM(name string) {
	offset, _ := d.offsetOf(DirTrack, BAMSector)
	data := d.data[offset : offset+SectorSize]
	for i := range data {
		data[i] = 0
	}

	data[bamDirStartOffset] = DirTrack
	data[bamDirStartOffset+1] = DirSector
	data[bamDOSVersionOffset] = dosVersion
	padName(data[bamDiskNameOffset:bamDiskNameOffset+DiskNameSize], name)
	data[bamPadOffset] = PadByte
	data[bamPadOffset+1] = PadByte
	data[bamDiskIDOffset] = PadByte
	data[bamDiskIDOffset+1] = PadByte
	data[bamDiskIDOffset+2] = PadByte
	data[bamDOSTypeOffset] = dosType
	data[bamDOSTypeOffset+1] = dosVersion

	for t := 1; t <= d.tracks; t++ {
		entry := d.data[d.bamEntryOffset(t):]
		count := sectorsPerTrack[t]
		entry[0] = byte(count)
		entry[1] = 0
		entry[2] = 0
		entry[3] = 0
		for s := 0; s < count; s++ {
			entry[1+s/8] |= 1 << (s % 8)
		}
	}

	// First directory sector: zeroed, marked as the chain tail.
	dirOffset, _ := d.offsetOf(DirTrack, DirSector)
	for i := 0; i < SectorSize; i++ {
		d.data[dirOffset+i] = 0
	}
	d.data[dirOffset+1] = 0xFF

	d.reserveSector(DirTrack, BAMSector)
	d.reserveSector(DirTrack, DirSector)
}

// FreeSectorsOnTrack returns the cached free count for a track.
func (d *DiskImage) FreeSectorsOnTrack(track int) int {
	if track < 1 || track > d.tracks {
		return 0
	}
	return int(d.data[d.bamEntryOffset(track)])
}

// IsSectorFree tests the BAM bit for a sector. Invalid locations report
// as not free.
func (d *DiskImage) IsSectorFree(track, sector int) bool {
	if !d.ValidLocation(track, sector) {
		return false
	}
	entry := d.data[d.bamEntryOffset(track):]
	return entry[1+sector/8]&(1<<(sector%8)) != 0
}

// MarkSectorUsed clears the free bit for a sector and decrements the
// track's free count. It fails without mutating if the sector is already
// used, or if it is one of the two permanently reserved sectors (the BAM
// sector and the first directory sector).
func (d *DiskImage) MarkSectorUsed(track, sector int) error {
	if !d.ValidLocation(track, sector) {
		return fmt.Errorf("%w: track %d sector %d", ErrInvalidLocation, track, sector)
	}
	if track == DirTrack && (sector == BAMSector || sector == DirSector) {
		return fmt.Errorf("%w: track %d sector %d", ErrReservedSector, track, sector)
	}
	entry := d.data[d.bamEntryOffset(track):]
	mask := byte(1 << (sector % 8))
	if entry[1+sector/8]&mask == 0 {
		return fmt.Errorf("%w: track %d sector %d", ErrAlreadyAllocated, track, sector)
	}
	entry[1+sector/8] &^= mask
	entry[0]--
	return nil
}

// MarkSectorFree sets the free bit for a sector and increments the track's
// free count. It fails without mutating if the sector is already free or
// permanently reserved.
func (d *DiskImage) MarkSectorFree(track, sector int) error {
	if !d.ValidLocation(track, sector) {
		return fmt.Errorf("%w: track %d sector %d", ErrInvalidLocation, track, sector)
	}
	if track == DirTrack && (sector == BAMSector || sector == DirSector) {
		return fmt.Errorf("%w: track %d sector %d", ErrReservedSector, track, sector)
	}
	entry := d.data[d.bamEntryOffset(track):]
	mask := byte(1 << (sector % 8))
	if entry[1+sector/8]&mask != 0 {
		return fmt.Errorf("%w: track %d sector %d", ErrAlreadyFree, track, sector)
	}
	entry[1+sector/8] |= mask
	entry[0]++
	return nil
}

// reserveSector claims a sector outside the public mutation path. Only
// format uses it, to seat the BAM and first directory sectors.
func (d *DiskImage) reserveSector(track, sector int) {
	entry := d.data[d.bamEntryOffset(track):]
	mask := byte(1 << (sector % 8))
	if entry[1+sector/8]&mask == 0 {
		return
	}
	entry[1+sector/8] &^= mask
	entry[0]--
}

// FreeSectorCount returns the number of sectors available to allocation.
// The directory track is excluded from the pool.
func (d *DiskImage) FreeSectorCount() int {
	free := 0
	for t := 1; t <= d.tracks; t++ {
		if t == DirTrack {
			continue
		}
		free += d.FreeSectorsOnTrack(t)
	}
	return free
}

// trackSearchOrder is the fixed allocation priority: the directory track
// and its neighbors first, radiating outward, so allocations cluster near
// the disk's physical middle and keep head movement short on real drives.
var trackSearchOrder35 = []int{
	18, 17, 19, 16, 20, 15, 21, 14, 22, 13, 23, 12, 24, 11, 25, 10, 26, 9,
	27, 8, 28, 7, 29, 6, 30, 5, 31, 4, 32, 3, 33, 2, 34, 1, 35,
}

var trackSearchOrder40 = append(append([]int{}, trackSearchOrder35...), 36, 37, 38, 39, 40)

// interleave is the sector skip applied within a track between
// consecutive allocations, approximating the physical spacing a real
// drive needs to read sequential sectors without missing a revolution.
const interleave = 10

// AllocateFreeSector finds and claims a free sector following the track
// priority order and the per-track interleave policy.
func (d *DiskImage) AllocateFreeSector() (TrackSector, error) {
	order := trackSearchOrder35
	if d.diskType == Disk40Track {
		order = trackSearchOrder40
	}
	for _, track := range order {
		sector, err := d.allocateOnTrack(track)
		if err != nil {
			continue
		}
		return TrackSector{byte(track), byte(sector)}, nil
	}
	return TrackSector{}, ErrDiskFull
}

// allocateOnTrack claims a free sector within one track. The search starts
// one interleave past the last sector handed out on the track and wraps
// around; the cursor is then moved to the allocated sector so later
// allocations keep spreading out.
func (d *DiskImage) allocateOnTrack(track int) (int, error) {
	if d.FreeSectorsOnTrack(track) < 1 {
		return 0, ErrDiskFull
	}
	count := sectorsPerTrack[track]
	start := (d.lastSectorUsed[track] + interleave) % count
	for i := 0; i < count; i++ {
		s := (start + i) % count
		if !d.IsSectorFree(track, s) {
			continue
		}
		if err := d.MarkSectorUsed(track, s); err != nil {
			continue
		}
		d.lastSectorUsed[track] = s
		return s, nil
	}
	return 0, ErrDiskFull
}
