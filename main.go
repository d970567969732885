package main

import "github.com/Davincible/chatgate/cmd"

func main() {
	cmd.Execute()
}
