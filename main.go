package main

import (
	"github.com/ValentinKolb/dNet/cmd"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
