package main

import "github.com/jdfalk/ubuntu-autoinstall-agent/cmd"

func main() {
	cmd.Execute()
}
