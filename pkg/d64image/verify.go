package d64image

import "fmt"

// BAMIssueKind classifies one mismatch between the BAM and the sector
// usage actually reachable from the directory.
type BAMIssueKind int

const (
	// IssueUsedInBAM marks a sector no file or directory structure
	// references, yet the BAM records it as allocated.
	IssueUsedInBAM BAMIssueKind = iota
	// IssueFreeInBAM marks a sector the directory references, yet the BAM
	// records it as free.
	IssueFreeInBAM
	// IssueFreeCount marks a track whose cached free count disagrees with
	// its bitmap.
	IssueFreeCount
)

// BAMIssue is a single finding of the integrity pass.
type BAMIssue struct {
	Kind     BAMIssueKind
	Track    int
	Sector   int
	Expected int
	Actual   int
	Fixed    bool
}

func (i BAMIssue) String() string {
	switch i.Kind {
	case IssueUsedInBAM:
		return fmt.Sprintf("track %d sector %d is marked used in BAM but not referenced", i.Track, i.Sector)
	case IssueFreeInBAM:
		return fmt.Sprintf("track %d sector %d is referenced but marked free in BAM", i.Track, i.Sector)
	case IssueFreeCount:
		return fmt.Sprintf("track %d free count is %d, expected %d", i.Track, i.Actual, i.Expected)
	}
	return "unknown issue"
}

// BAMReport collects the findings of a verification pass.
type BAMReport struct {
	Issues []BAMIssue
}

// Valid reports whether the pass found nothing wrong.
func (r *BAMReport) Valid() bool {
	return len(r.Issues) == 0
}

// VerifyBAM cross-checks the BAM against the sector usage reachable from
// the directory: the BAM sector itself, every directory sector, and the
// full chain of every closed entry (for REL entries, the side sectors and
// the record sectors they index). With fix set, BAM bits are flipped to
// match observed usage and per-track free counts are recomputed from the
// reconciled bitmap.
//
// The returned flag is false whenever any mismatch was found, even if it
// was repaired; rerun the pass to confirm a repaired disk is clean.
func (d *DiskImage) VerifyBAM(fix bool) (bool, *BAMReport) {
	report := &BAMReport{}

	used := make([][]bool, d.tracks+1)
	for t := 1; t <= d.tracks; t++ {
		used[t] = make([]bool, sectorsPerTrack[t])
	}
	mark := func(ts TrackSector) {
		if d.ValidLocation(int(ts.Track), int(ts.Sector)) {
			used[ts.Track][ts.Sector] = true
		}
	}

	mark(TrackSector{DirTrack, BAMSector})

	if chain, err := d.dirSectors(); err == nil {
		for _, ts := range chain {
			mark(ts)
		}
	} else {
		// A broken directory chain still covers its reachable head.
		mark(TrackSector{DirTrack, DirSector})
	}

	files, err := d.Directory()
	if err == nil {
		for i := range files {
			sectors, err := d.fileSectors(&files[i])
			if err != nil {
				continue
			}
			for _, ts := range sectors {
				mark(ts)
			}
		}
	}

	for track := 1; track <= d.tracks; track++ {
		entry := d.data[d.bamEntryOffset(track):]
		expectedFree := 0
		for sector := 0; sector < sectorsPerTrack[track]; sector++ {
			mask := byte(1 << (sector % 8))
			freeInBAM := entry[1+sector/8]&mask != 0
			referenced := used[track][sector]

			if !referenced {
				expectedFree++
			}
			if referenced == !freeInBAM {
				continue
			}

			issue := BAMIssue{Track: track, Sector: sector}
			if referenced {
				issue.Kind = IssueFreeInBAM
				if fix {
					entry[1+sector/8] &^= mask
					issue.Fixed = true
				}
			} else {
				issue.Kind = IssueUsedInBAM
				if fix {
					entry[1+sector/8] |= mask
					issue.Fixed = true
				}
			}
			report.Issues = append(report.Issues, issue)
		}

		if int(entry[0]) != expectedFree {
			issue := BAMIssue{
				Kind:     IssueFreeCount,
				Track:    track,
				Expected: expectedFree,
				Actual:   int(entry[0]),
			}
			if fix {
				entry[0] = byte(expectedFree)
				issue.Fixed = true
			}
			report.Issues = append(report.Issues, issue)
		}
	}

	return report.Valid(), report
}
