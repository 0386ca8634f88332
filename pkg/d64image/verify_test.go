package d64image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyFreshDisk(t *testing.T) {
	ok, report := NewDiskImage(Disk35Track).VerifyBAM(false)
	assert.True(t, ok)
	assert.Empty(t, report.Issues)

	ok, _ = NewDiskImage(Disk40Track).VerifyBAM(false)
	assert.True(t, ok)
}

func TestVerifyPopulatedDisk(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	require.NoError(t, d.AddFile("PROG", FileTypePRG, testPattern(3000)))
	require.NoError(t, d.AddRELFile("RECS", 100, relPattern(130, 100)))
	require.NoError(t, d.AddFile("NOTE", FileTypeSEQ, nil))
	require.NoError(t, d.RemoveFile("NOTE"))

	ok, report := d.VerifyBAM(false)
	assert.True(t, ok, "unexpected issues: %v", report.Issues)
}

func TestVerifyDetectsOrphan(t *testing.T) {
	d := NewDiskImage(Disk35Track)

	// Claim a sector nothing references.
	require.NoError(t, d.MarkSectorUsed(5, 3))

	// The stale bit and the now-wrong track count are both reported.
	ok, report := d.VerifyBAM(false)
	assert.False(t, ok)
	require.Len(t, report.Issues, 2)
	assert.Equal(t, IssueUsedInBAM, report.Issues[0].Kind)
	assert.Equal(t, 5, report.Issues[0].Track)
	assert.Equal(t, 3, report.Issues[0].Sector)
	assert.False(t, report.Issues[0].Fixed)
	assert.Equal(t, IssueFreeCount, report.Issues[1].Kind)

	// The read-only pass must not repair anything.
	assert.False(t, d.IsSectorFree(5, 3))
}

func TestVerifyDetectsFreeReferenced(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	require.NoError(t, d.AddFile("PROG", FileTypePRG, testPattern(500)))

	entry, err := d.FindFile("PROG")
	require.NoError(t, err)
	start := entry.Start
	require.NoError(t, d.MarkSectorFree(int(start.Track), int(start.Sector)))

	ok, report := d.VerifyBAM(false)
	assert.False(t, ok)
	found := false
	for _, issue := range report.Issues {
		if issue.Kind == IssueFreeInBAM && issue.Track == int(start.Track) && issue.Sector == int(start.Sector) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestVerifyFixRepairs(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	require.NoError(t, d.AddFile("PROG", FileTypePRG, testPattern(2000)))

	entry, err := d.FindFile("PROG")
	require.NoError(t, err)
	start := entry.Start

	require.NoError(t, d.MarkSectorUsed(5, 3))
	require.NoError(t, d.MarkSectorFree(int(start.Track), int(start.Sector)))

	// The repairing pass still reports the disk as dirty.
	ok, report := d.VerifyBAM(true)
	assert.False(t, ok)
	assert.NotEmpty(t, report.Issues)
	for _, issue := range report.Issues {
		assert.True(t, issue.Fixed, "%s", issue)
	}

	// A second pass confirms the repair.
	ok, report = d.VerifyBAM(false)
	assert.True(t, ok, "unexpected issues: %v", report.Issues)
	assert.True(t, d.IsSectorFree(5, 3))
	assert.False(t, d.IsSectorFree(int(start.Track), int(start.Sector)))

	data, err := d.ReadFile("PROG")
	require.NoError(t, err)
	assert.Equal(t, testPattern(2000), data)
}

func TestVerifyFixReclaimsLeakedSectors(t *testing.T) {
	d := NewDiskImage(Disk35Track)
	free := d.FreeSectorCount()

	// Allocations with no directory entry model a write abandoned midway.
	for i := 0; i < 30; i++ {
		_, err := d.AllocateFreeSector()
		require.NoError(t, err)
	}
	assert.Less(t, d.FreeSectorCount(), free)

	ok, _ := d.VerifyBAM(true)
	assert.False(t, ok)

	assert.Equal(t, free, d.FreeSectorCount())
	ok, _ = d.VerifyBAM(false)
	assert.True(t, ok)
}

func TestVerifyFixRecountsTracks(t *testing.T) {
	d := NewDiskImage(Disk35Track)

	// Corrupt a cached count without touching the bitmap.
	entry := d.data[d.bamEntryOffset(7):]
	entry[0] = 3

	ok, report := d.VerifyBAM(true)
	assert.False(t, ok)
	require.Len(t, report.Issues, 1)
	issue := report.Issues[0]
	assert.Equal(t, IssueFreeCount, issue.Kind)
	assert.Equal(t, 7, issue.Track)
	assert.Equal(t, 3, issue.Actual)
	assert.Equal(t, 21, issue.Expected)
	assert.Equal(t, 21, d.FreeSectorsOnTrack(7))
}

func TestIssueStrings(t *testing.T) {
	assert.Contains(t, BAMIssue{Kind: IssueUsedInBAM, Track: 5, Sector: 3}.String(), "track 5 sector 3")
	assert.Contains(t, BAMIssue{Kind: IssueFreeInBAM, Track: 1, Sector: 0}.String(), "marked free")
	assert.Contains(t, BAMIssue{Kind: IssueFreeCount, Track: 7, Expected: 21, Actual: 3}.String(), "free count")
}
