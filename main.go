// The main package for the crawler executable.
package main

import (
	"github.com/JakeFAU/realtime-search-crawler/cmd"
)

func main() {
	cmd.Execute()
}
