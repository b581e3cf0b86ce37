// Command tradecore runs the algorithmic trading pipeline engine.
package main

import (
	"os"

	"github.com/atlasquant/tradecore/cmd/tradecore/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
