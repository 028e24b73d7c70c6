// paintedminds はPainted MindsのAPIサーバー、ワーカー、マイグレーションを起動する。
//
//	paintedminds [serve|worker|migrate|remind|healthcheck|help]
package main

import (
	"fmt"
	"os"

	"github.com/paintedminds/paintedminds/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
