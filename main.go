package main

import "github/chapool/ledger-provider/cmd"

func main() {
	cmd.Execute()
}
