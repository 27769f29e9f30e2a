package main

import "github.com/markb/brandgallery/cmd"

func main() {
	cmd.Execute()
}
