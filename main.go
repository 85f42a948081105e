package main

import "github.com/samogod/llama-embd/cmd"

func main() {
	cmd.Execute()
}
