package main

import "github.com/dbsmedya/gobackfill/cmd/gobackfill/cmd"

func main() {
	cmd.Execute()
}
