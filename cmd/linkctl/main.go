// linkctl -- CLI admin client for linkctld.
package main

import "github.com/meshwired/linkctl/cmd/linkctl/commands"

func main() {
	commands.Execute()
}
