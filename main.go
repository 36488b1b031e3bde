package main

import "InferenceGovernor/pkg/commands"

func main() {
	commands.Execute()
}
