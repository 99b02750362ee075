// Command docs2pdf converts documentation sites to PDF.
package main

import "github.com/JakeFAU/docs2pdf/cmd"

func main() {
	cmd.Execute()
}
