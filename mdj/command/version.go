package command

import (
	"fmt"
	"runtime"
)

const Version = "0.9"

var cmdVersion = &Command{
	Run:       runVersion,
	UsageLine: "version",
	Short:     "print mdj version",
	Long:      `Version prints the mdj version`,
}

func runVersion(cmd *Command, args []string) bool {
	if len(args) != 0 {
		cmd.Usage()
	}

	fmt.Printf("version %s %s %s\n", Version, runtime.GOOS, runtime.GOARCH)
	return true
}
