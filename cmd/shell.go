package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pebmeister/d64lib/pkg/d64image"
	"github.com/spf13/cobra"
)

func Shell(cmd *cobra.Command, args []string) {
	d := loadImage()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          imageFileName + "> ",
		HistoryFile:     "/tmp/d64tool_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	FatalErrCheck(err)
	defer rl.Close()

	dirty := false

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		verb := strings.ToLower(words[0])
		rest := words[1:]

		switch verb {
		case "quit", "exit":
			if dirty {
				fmt.Println("Unsaved changes discarded.")
			}
			return
		case "help":
			shellHelp()
		case "dir":
			files, err := d.Directory()
			if shellErr(err) {
				continue
			}
			fmt.Printf("0 %q\n", d.DiskName())
			for i := range files {
				files[i].Print()
			}
			fmt.Printf("%d blocks free.\n", d.FreeSectorCount())
		case "free":
			fmt.Printf("Free sectors: %d\n", d.FreeSectorCount())
		case "bam":
			d.GetBAM().Print()
		case "get":
			for _, name := range rest {
				if shellErr(d.ExtractFile(name)) {
					break
				}
				fmt.Printf("Extracted %s\n", name)
			}
		case "put":
			if len(rest) < 1 {
				fmt.Println("Usage: put <localfile> [name] [type] [recordlen]")
				continue
			}
			if shellPut(d, rest) {
				dirty = true
			}
		case "del":
			for _, name := range rest {
				if shellErr(d.RemoveFile(name)) {
					break
				}
				dirty = true
			}
		case "rename":
			if len(rest) != 2 {
				fmt.Println("Usage: rename <oldname> <newname>")
				continue
			}
			if !shellErr(d.RenameFile(rest[0], rest[1])) {
				dirty = true
			}
		case "chkdsk":
			ok, report := d.VerifyBAM(false)
			for _, issue := range report.Issues {
				fmt.Println(issue.String())
			}
			if ok {
				fmt.Println("BAM is consistent.")
			}
		case "save":
			if shellErr(d.Save(imageFileName)) {
				continue
			}
			dirty = false
			fmt.Printf("Saved %s\n", imageFileName)
		default:
			fmt.Printf("Unknown command %q. Try 'help'.\n", verb)
		}
	}
}

func shellPut(d *d64image.DiskImage, words []string) bool {
	data, err := os.ReadFile(words[0])
	if shellErr(err) {
		return false
	}

	name := strings.ToUpper(strings.TrimSuffix(words[0], ".prg"))
	if len(words) > 1 {
		name = words[1]
	}

	typeName := "prg"
	if len(words) > 2 {
		typeName = words[2]
	}
	fileType, err := parseFileType(typeName)
	if shellErr(err) {
		return false
	}

	if fileType == d64image.FileTypeREL {
		if len(words) < 4 {
			fmt.Println("rel files need a record length")
			return false
		}
		recLen, err := strconv.Atoi(words[3])
		if shellErr(err) {
			return false
		}
		if shellErr(d.AddRELFile(name, byte(recLen), data)) {
			return false
		}
	} else {
		if shellErr(d.AddFile(name, fileType, data)) {
			return false
		}
	}

	fmt.Printf("Stored %d bytes as %q\n", len(data), name)
	return true
}

func shellErr(err error) bool {
	if err != nil {
		fmt.Println("Error:", err)
		return true
	}
	return false
}

func shellHelp() {
	fmt.Println("Commands:")
	fmt.Println("  dir                                  list directory")
	fmt.Println("  free                                 print free sector count")
	fmt.Println("  bam                                  dump the BAM")
	fmt.Println("  get <name>...                        extract files to local disk")
	fmt.Println("  put <localfile> [name] [type] [len]  store a local file")
	fmt.Println("  del <name>...                        delete files")
	fmt.Println("  rename <old> <new>                   rename a file")
	fmt.Println("  chkdsk                               verify the BAM")
	fmt.Println("  save                                 write changes back to the image")
	fmt.Println("  quit                                 exit without saving")
}
