package main

import (
	"fmt"
	"os"

	"github.com/kpi-project/assetdb/assetdb"
	"go.uber.org/automaxprocs/maxprocs"
)

func init() {
	_, _ = maxprocs.Set()
}

func main() {
	err := assetdb.RootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
