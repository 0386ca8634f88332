package d64image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshBAM(t *testing.T) {
	d := NewDiskImage(Disk35Track)

	assert.Equal(t, 664, d.FreeSectorCount())
	assert.Equal(t, 21, d.FreeSectorsOnTrack(1))
	assert.Equal(t, 17, d.FreeSectorsOnTrack(35))
	// The BAM sector and the first directory sector are reserved.
	assert.Equal(t, 17, d.FreeSectorsOnTrack(18))
	assert.False(t, d.IsSectorFree(DirTrack, BAMSector))
	assert.False(t, d.IsSectorFree(DirTrack, DirSector))
	assert.True(t, d.IsSectorFree(DirTrack, 2))
	assert.True(t, d.IsSectorFree(1, 0))

	d40 := NewDiskImage(Disk40Track)
	assert.Equal(t, 749, d40.FreeSectorCount())
	assert.Equal(t, 17, d40.FreeSectorsOnTrack(40))
}

func TestGetBAM(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	d.RenameDisk("BAMTEST")

	bam := d.GetBAM()
	assert.Equal(t, TrackSector{DirTrack, DirSector}, bam.DirStart)
	assert.Equal(t, byte('A'), bam.DOSVersion)
	assert.Equal(t, [2]byte{'2', 'A'}, bam.DOSType)
	assert.Equal(t, "BAMTEST", bam.DiskName)
	require.Len(t, bam.Entries, 35)
	for track := 1; track <= 35; track++ {
		entry := bam.Entries[track-1]
		assert.Equal(t, d.FreeSectorsOnTrack(track), int(entry.Free), "track %d", track)
		free := 0
		for s := 0; s < SectorsOnTrack(track); s++ {
			if entry.IsFree(s) {
				free++
			}
		}
		assert.Equal(t, int(entry.Free), free, "track %d bitmap", track)
	}

	bam40 := NewDiskImage(Disk40Track).GetBAM()
	require.Len(t, bam40.Entries, 40)
	assert.Equal(t, byte(17), bam40.Entries[39].Free)
}

func TestExtraTrackEntriesLiveAt0xAC(t *testing.T) {
	d := NewDiskImage(Disk40Track)
	bamOffset, err := d.offsetOf(DirTrack, BAMSector)
	require.NoError(t, err)
	assert.Equal(t, bamOffset+bamExtraTrackOffset, d.bamEntryOffset(36))
	assert.Equal(t, bamOffset+bamExtraTrackOffset+4*bamEntrySize, d.bamEntryOffset(40))
	assert.Equal(t, bamOffset+bamTrackOffset, d.bamEntryOffset(1))
	assert.Equal(t, bamOffset+bamTrackOffset+34*bamEntrySize, d.bamEntryOffset(35))
}

func TestMarkSectorGuards(t *testing.T) {
	d := NewDiskImage(Disk35Track)

	require.NoError(t, d.MarkSectorUsed(1, 5))
	assert.False(t, d.IsSectorFree(1, 5))
	assert.Equal(t, 20, d.FreeSectorsOnTrack(1))

	err := d.MarkSectorUsed(1, 5)
	assert.ErrorIs(t, err, ErrAlreadyAllocated)
	assert.Equal(t, 20, d.FreeSectorsOnTrack(1))

	require.NoError(t, d.MarkSectorFree(1, 5))
	assert.True(t, d.IsSectorFree(1, 5))
	assert.Equal(t, 21, d.FreeSectorsOnTrack(1))

	err = d.MarkSectorFree(1, 5)
	assert.ErrorIs(t, err, ErrAlreadyFree)
	assert.Equal(t, 21, d.FreeSectorsOnTrack(1))

	assert.ErrorIs(t, d.MarkSectorUsed(DirTrack, BAMSector), ErrReservedSector)
	assert.ErrorIs(t, d.MarkSectorFree(DirTrack, DirSector), ErrReservedSector)
	assert.ErrorIs(t, d.MarkSectorUsed(0, 0), ErrInvalidLocation)
	assert.ErrorIs(t, d.MarkSectorFree(1, 21), ErrInvalidLocation)
}

func TestAllocationOrder(t *testing.T) {
	d := NewDiskImage(Disk35Track)

	// The first pick lands on the directory track, one interleave in.
	ts, err := d.AllocateFreeSector()
	require.NoError(t, err)
	assert.Equal(t, TrackSector{18, 9}, ts)

	// The next wraps around; sectors 0 and 1 are taken so it lands on 2.
	ts, err = d.AllocateFreeSector()
	require.NoError(t, err)
	assert.Equal(t, TrackSector{18, 2}, ts)
}

func TestAllocateUntilFull(t *testing.T) {
	for _, diskType := range []DiskType{Disk35Track, Disk40Track} {
		d := NewDiskImage(diskType)
		want := d.TotalSectors() - 2 // BAM sector and first directory sector

		seen := make(map[TrackSector]bool)
		for {
			ts, err := d.AllocateFreeSector()
			if err != nil {
				assert.ErrorIs(t, err, ErrDiskFull)
				break
			}
			require.False(t, seen[ts], "sector %s allocated twice", ts)
			seen[ts] = true
		}

		assert.Len(t, seen, want)
		assert.Equal(t, 0, d.FreeSectorCount())
		for track := 1; track <= d.Tracks(); track++ {
			assert.Equal(t, 0, d.FreeSectorsOnTrack(track), "track %d", track)
		}
	}
}

func TestAllocationOffDirTrackDecrementsTotal(t *testing.T) {
	d := NewDiskImage(Disk35Track)

	// Drain the directory track so every later pick is off track 18.
	for d.FreeSectorsOnTrack(DirTrack) > 0 {
		ts, err := d.AllocateFreeSector()
		require.NoError(t, err)
		require.Equal(t, byte(DirTrack), ts.Track)
	}

	free := d.FreeSectorCount()
	for i := 0; i < 50; i++ {
		ts, err := d.AllocateFreeSector()
		require.NoError(t, err)
		require.NotEqual(t, byte(DirTrack), ts.Track)
		free--
		assert.Equal(t, free, d.FreeSectorCount())
	}
}

func TestFreeCountsMatchBitmaps(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	for i := 0; i < 100; i++ {
		_, err := d.AllocateFreeSector()
		require.NoError(t, err)
	}
	require.NoError(t, d.MarkSectorFree(17, 19))

	for track := 1; track <= d.Tracks(); track++ {
		free := 0
		for s := 0; s < SectorsOnTrack(track); s++ {
			if d.IsSectorFree(track, s) {
				free++
			}
		}
		assert.Equal(t, d.FreeSectorsOnTrack(track), free, "track %d", track)
	}
}
