// Command transfers manages the per-tenant transfers ledger in PostgreSQL.
package main

import "github.com/nimburion/transfers/pkg/cli"

func main() {
	cli.Execute(cli.NewCommand(cli.Options{
		Name:        "transfers",
		Description: "Query and maintain the fee/fine transfers ledger",
	}))
}
