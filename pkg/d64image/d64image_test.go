package d64image

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometry(t *testing.T) {
	assert.Equal(t, 21, SectorsOnTrack(1))
	assert.Equal(t, 21, SectorsOnTrack(17))
	assert.Equal(t, 19, SectorsOnTrack(18))
	assert.Equal(t, 18, SectorsOnTrack(25))
	assert.Equal(t, 17, SectorsOnTrack(31))
	assert.Equal(t, 17, SectorsOnTrack(35))
	assert.Equal(t, 17, SectorsOnTrack(40))
	assert.Equal(t, 0, SectorsOnTrack(0))
	assert.Equal(t, 0, SectorsOnTrack(41))
}

func TestImageSizes(t *testing.T) {
	d35 := NewDiskImage(Disk35Track)
	assert.Equal(t, Disk35Size, d35.Size())
	assert.Equal(t, 35, d35.Tracks())
	assert.Equal(t, 683, d35.TotalSectors())

	d40 := NewDiskImage(Disk40Track)
	assert.Equal(t, Disk40Size, d40.Size())
	assert.Equal(t, 40, d40.Tracks())
	assert.Equal(t, 768, d40.TotalSectors())
}

func TestOffsetsAreDenseAndOrdered(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	prev := -SectorSize
	for track := 1; track <= d.Tracks(); track++ {
		for sector := 0; sector < SectorsOnTrack(track); sector++ {
			offset, err := d.offsetOf(track, sector)
			require.NoError(t, err)
			assert.Equal(t, prev+SectorSize, offset, "track %d sector %d", track, sector)
			prev = offset
		}
	}
	assert.Equal(t, d.Size(), prev+SectorSize)
}

func TestInvalidLocations(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	assert.False(t, d.ValidLocation(0, 0))
	assert.False(t, d.ValidLocation(36, 0))
	assert.False(t, d.ValidLocation(1, 21))
	assert.False(t, d.ValidLocation(18, 19))
	assert.True(t, d.ValidLocation(1, 20))
	assert.True(t, d.ValidLocation(35, 16))

	d40 := NewDiskImage(Disk40Track)
	assert.True(t, d40.ValidLocation(40, 16))
	assert.False(t, d40.ValidLocation(41, 0))

	_, err := d.ReadSector(36, 0)
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = d.ReadByte(1, 0, 256)
	assert.ErrorIs(t, err, ErrInvalidLocation)
	err = d.WriteByte(1, 0, -1, 0)
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestSectorReadWrite(t *testing.T) {
	d := NewDiskImage(Disk35Track)

	sector := make([]byte, SectorSize)
	for i := range sector {
		sector[i] = byte(i)
	}
	require.NoError(t, d.WriteSector(5, 3, sector))

	got, err := d.ReadSector(5, 3)
	require.NoError(t, err)
	assert.Equal(t, sector, got)

	// ReadSector returns a copy, not a window into the image.
	got[0] = 0xEE
	again, err := d.ReadSector(5, 3)
	require.NoError(t, err)
	assert.Equal(t, byte(0), again[0])

	err = d.WriteSector(5, 3, sector[:100])
	assert.ErrorIs(t, err, ErrInvalidLocation)

	require.NoError(t, d.WriteByte(5, 3, 7, 0x42))
	b, err := d.ReadByte(5, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), b)
}

func TestFormatAndDiskName(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	assert.Equal(t, "NEW DISK", d.DiskName())

	d.RenameDisk("GAMES")
	assert.Equal(t, "GAMES", d.DiskName())

	d.RenameDisk("A NAME THAT IS FAR TOO LONG")
	assert.Equal(t, "A NAME THAT IS F", d.DiskName())

	require.NoError(t, d.AddFile("JUNK", FileTypePRG, []byte{1, 2, 3}))
	d.Format("FRESH")
	assert.Equal(t, "FRESH", d.DiskName())
	files, err := d.Directory()
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, 664, d.FreeSectorCount())
}

func TestSaveLoadRoundtrip(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	d.RenameDisk("ROUNDTRIP")
	require.NoError(t, d.AddFile("HELLO", FileTypePRG, bytes.Repeat([]byte{0x37}, 1000)))

	var buf bytes.Buffer
	require.NoError(t, d.WriteTo(&buf))
	require.Equal(t, Disk35Size, buf.Len())

	d2, err := ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, Disk35Track, d2.Type())
	assert.Equal(t, "ROUNDTRIP", d2.DiskName())

	var buf2 bytes.Buffer
	require.NoError(t, d2.WriteTo(&buf2))
	assert.Equal(t, buf.Bytes(), buf2.Bytes())

	data, err := d2.ReadFile("HELLO")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x37}, 1000), data)
}

func TestSaveLoadFile(t *testing.T) {
	chdir(t, t.TempDir())

	d := NewDiskImage(Disk40Track)
	require.NoError(t, d.AddFile("PAYLOAD", FileTypeSEQ, []byte("sequential data")))
	require.NoError(t, d.Save("test.d64"))

	d2, err := Load("test.d64")
	require.NoError(t, err)
	assert.Equal(t, Disk40Track, d2.Type())
	data, err := d2.ReadFile("PAYLOAD")
	require.NoError(t, err)
	assert.Equal(t, []byte("sequential data"), data)

	_, err = Load("no-such-image.d64")
	assert.Error(t, err)
}

func TestReadFromRejectsBadSize(t *testing.T) {
	_, err := ReadFrom(bytes.NewReader(make([]byte, 1000)))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = ReadFrom(bytes.NewReader(make([]byte, Disk35Size-1)))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestReadFromReformatsCorruptImage(t *testing.T) {
	// Right length, garbage content: load succeeds as a fresh blank disk.
	garbage := bytes.Repeat([]byte{0xFF}, Disk35Size)
	d, err := ReadFrom(bytes.NewReader(garbage))
	require.NoError(t, err)
	assert.Equal(t, "NEW DISK", d.DiskName())
	assert.Equal(t, 664, d.FreeSectorCount())
	files, err := d.Directory()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReadFromKeepsValidImage(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	require.NoError(t, d.AddFile("KEEPME", FileTypePRG, []byte("do not reformat")))

	var buf bytes.Buffer
	require.NoError(t, d.WriteTo(&buf))

	d2, err := ReadFrom(&buf)
	require.NoError(t, err)
	data, err := d2.ReadFile("KEEPME")
	require.NoError(t, err)
	assert.Equal(t, []byte("do not reformat"), data)
}

func TestTrackSectorString(t *testing.T) {
	assert.Equal(t, "18/1", TrackSector{18, 1}.String())
	assert.True(t, TrackSector{}.IsNull())
	assert.False(t, TrackSector{1, 0}.IsNull())
}
