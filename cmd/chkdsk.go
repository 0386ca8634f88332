package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func CheckDisk(cmd *cobra.Command, args []string) {
	d := loadImage()

	ok, report := d.VerifyBAM(fixErrors)

	for _, issue := range report.Issues {
		fmt.Println(issue.String())
	}

	if fixErrors && len(report.Issues) > 0 {
		err := d.Save(imageFileName)
		FatalErrCheck(err)
		Infof("BAM repaired and image saved.\n")
	}

	if ok {
		Infof("BAM is consistent.\n")
		return
	}

	os.Exit(1)
}
