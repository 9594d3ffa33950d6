// Command harness runs preregistered ablation studies. See "harness --help".
package main

import (
	"os"

	"github.com/danielpatrickdp/ablation-harness/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
