package d64image

import "errors"

var (
	ErrInvalidLocation     = errors.New("invalid track or sector")
	ErrDiskFull            = errors.New("disk is full")
	ErrFileNotFound        = errors.New("file not found")
	ErrInvalidFormat       = errors.New("not a valid d64 image")
	ErrNotRelFile          = errors.New("not a REL file")
	ErrInvalidRelStructure = errors.New("invalid REL file structure")
	ErrAlreadyFree         = errors.New("sector already marked free")
	ErrAlreadyAllocated    = errors.New("sector already marked allocated")
	ErrReservedSector      = errors.New("sector is reserved")
	ErrUnknownFileType     = errors.New("unknown file type")
)
