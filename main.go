package main

import "github.com/wolfitem/ai-newscast/cmd"

func main() {
	cmd.Execute()
}
