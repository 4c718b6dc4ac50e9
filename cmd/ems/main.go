// Command ems runs the employee management services: the gateway, the auth
// service and the employee service, plus schema and operator tooling.
package main

import (
	"fmt"
	"os"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
