package main

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/pebmeister/d64lib/pkg/d64image"
	"github.com/spf13/cobra"
)

var (
	quiet          bool
	imageFileName  string
	outputFileName string
	diskName       string
	fileTypeName   string
	destName       string
	recordLength   int
	fortyTracks    bool
	fixErrors      bool

	rootCmd = &cobra.Command{
		Use:   "d64tool",
		Short: "Tool for modifying Commodore 1541 d64 disk images",
	}

	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a blank formatted image",
		Run:   Create,
	}

	dirCmd = &cobra.Command{
		Use:   "dir",
		Short: "List directory contents",
		Run:   Dir,
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Dump the BAM to stdout",
		Run:   Dump,
	}

	getCmd = &cobra.Command{
		Use:   "get",
		Short: "Get file from image to local disk",
		Run:   Get,
	}

	putCmd = &cobra.Command{
		Use:   "put",
		Short: "Put from local disk to image",
		Run:   Put,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "Delete file from image",
		Run:   Delete,
	}

	renameCmd = &cobra.Command{
		Use:   "rename",
		Short: "Rename a file on the image",
		Run:   Rename,
	}

	lockCmd = &cobra.Command{
		Use:   "lock",
		Short: "Set the lock bit on a file",
		Run:   Lock,
	}

	unlockCmd = &cobra.Command{
		Use:   "unlock",
		Short: "Clear the lock bit on a file",
		Run:   Unlock,
	}

	chkdskCmd = &cobra.Command{
		Use:   "chkdsk",
		Short: "Check disk",
		Run:   CheckDisk,
	}

	freeCmd = &cobra.Command{
		Use:   "free",
		Short: "Print free sectors",
		Run:   Free,
	}

	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Compact the directory",
		Run:   Compact,
	}

	reorderCmd = &cobra.Command{
		Use:   "reorder",
		Short: "Reorder directory entries by the given names",
		Run:   Reorder,
	}

	shellCmd = &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell on an image",
		Run:   Shell,
	}
)

func FatalErrCheck(err error) {
	if err != nil {
		fmt.Println("Fatal error:", err)
		os.Exit(-1)
	}
}

func Infof(format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Printf(format, args...)
}

func loadImage() *d64image.DiskImage {
	d, err := d64image.Load(imageFileName)
	FatalErrCheck(err)
	return d
}

func parseFileType(name string) (d64image.FileType, error) {
	switch strings.ToLower(name) {
	case "prg":
		return d64image.FileTypePRG, nil
	case "seq":
		return d64image.FileTypeSEQ, nil
	case "usr":
		return d64image.FileTypeUSR, nil
	case "rel":
		return d64image.FileTypeREL, nil
	}
	return 0, fmt.Errorf("unknown file type %q", name)
}

func Create(cmd *cobra.Command, args []string) {
	diskType := d64image.Disk35Track
	if fortyTracks {
		diskType = d64image.Disk40Track
	}
	d := d64image.NewDiskImage(diskType)
	if diskName != "" {
		d.RenameDisk(diskName)
	}
	err := d.Save(imageFileName)
	FatalErrCheck(err)
	Infof("Created %s (%d tracks, %q)\n", imageFileName, d.Tracks(), d.DiskName())
}

func Dir(cmd *cobra.Command, args []string) {
	d := loadImage()

	files, err := d.Directory()
	FatalErrCheck(err)

	fmt.Printf("0 %q\n", d.DiskName())
	for i := range files {
		files[i].Print()
	}
	fmt.Printf("%d blocks free.\n", d.FreeSectorCount())
}

func Dump(cmd *cobra.Command, args []string) {
	d := loadImage()
	d.GetBAM().Print()
}

func Get(cmd *cobra.Command, args []string) {
	d := loadImage()

	for _, arg := range args {
		if outputFileName == "" {
			err := d.ExtractFile(arg)
			FatalErrCheck(err)
			Infof("Extracted %s\n", arg)
			continue
		}
		data, err := d.ReadFile(arg)
		FatalErrCheck(err)
		err = os.WriteFile(outputFileName, data, 0644)
		FatalErrCheck(err)
		Infof("Wrote %d bytes to %s\n", len(data), outputFileName)
	}
}

func Put(cmd *cobra.Command, args []string) {
	d := loadImage()

	fileType, err := parseFileType(fileTypeName)
	FatalErrCheck(err)

	for _, arg := range args {
		data, err := os.ReadFile(arg)
		FatalErrCheck(err)

		name := destName
		if name == "" {
			name = strings.ToUpper(strings.TrimSuffix(path.Base(arg), path.Ext(arg)))
		}

		if fileType == d64image.FileTypeREL {
			err = d.AddRELFile(name, byte(recordLength), data)
		} else {
			err = d.AddFile(name, fileType, data)
		}
		FatalErrCheck(err)

		Infof("Stored %d bytes as %q\n", len(data), name)
	}

	err = d.Save(imageFileName)
	FatalErrCheck(err)
}

func Delete(cmd *cobra.Command, args []string) {
	d := loadImage()

	for _, arg := range args {
		err := d.RemoveFile(arg)
		FatalErrCheck(err)
	}

	err := d.Save(imageFileName)
	FatalErrCheck(err)
}

func Rename(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		fmt.Printf("Arguments required: <oldname> <newname>\n")
		os.Exit(-1)
	}
	d := loadImage()

	err := d.RenameFile(args[0], args[1])
	FatalErrCheck(err)

	err = d.Save(imageFileName)
	FatalErrCheck(err)
}

func Lock(cmd *cobra.Command, args []string) {
	d := loadImage()
	for _, arg := range args {
		err := d.LockFile(arg)
		FatalErrCheck(err)
	}
	err := d.Save(imageFileName)
	FatalErrCheck(err)
}

func Unlock(cmd *cobra.Command, args []string) {
	d := loadImage()
	for _, arg := range args {
		err := d.UnlockFile(arg)
		FatalErrCheck(err)
	}
	err := d.Save(imageFileName)
	FatalErrCheck(err)
}

func Free(cmd *cobra.Command, args []string) {
	d := loadImage()
	fmt.Printf("Free sectors: %d\n", d.FreeSectorCount())
}

func Compact(cmd *cobra.Command, args []string) {
	d := loadImage()

	changed, err := d.CompactDirectory()
	FatalErrCheck(err)

	if changed {
		err = d.Save(imageFileName)
		FatalErrCheck(err)
		Infof("Directory compacted.\n")
	} else {
		Infof("Directory already compact.\n")
	}
}

func Reorder(cmd *cobra.Command, args []string) {
	d := loadImage()

	changed, err := d.ReorderDirectory(args)
	FatalErrCheck(err)

	if changed {
		err = d.Save(imageFileName)
		FatalErrCheck(err)
		Infof("Directory reordered.\n")
	} else {
		Infof("Directory already in requested order.\n")
	}
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Hide nonessential output")
	rootCmd.PersistentFlags().StringVarP(&imageFileName, "filename", "f", "disk.d64", "d64 image file to use")
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(chkdskCmd)
	rootCmd.AddCommand(freeCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(reorderCmd)
	rootCmd.AddCommand(shellCmd)

	createCmd.PersistentFlags().StringVarP(&diskName, "name", "n", "NEW DISK", "disk name")
	createCmd.PersistentFlags().BoolVar(&fortyTracks, "40", false, "create a 40 track image")
	getCmd.PersistentFlags().StringVarP(&outputFileName, "output", "o", "", "output filename")
	putCmd.PersistentFlags().StringVarP(&fileTypeName, "type", "t", "prg", "file type (prg, seq, usr, rel)")
	putCmd.PersistentFlags().StringVarP(&destName, "name", "n", "", "name to use on the image (defaults to basename of file)")
	putCmd.PersistentFlags().IntVarP(&recordLength, "record-length", "r", 0, "record length for rel files")
	chkdskCmd.PersistentFlags().BoolVar(&fixErrors, "fix", false, "repair BAM mismatches")

	err := rootCmd.Execute()
	FatalErrCheck(err)
}
