package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "viralforge"}

	root.AddCommand(serveCMD(), migrateCMD(), sessionCMD())
	_ = root.Execute()
}
