package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/notargets/gostokes/model_problems/Stokes2D"
)

var (
	csvFile string
)

// Prints the experimental orders of convergence of refinement studies saved
// with "gostokes stokes --refine N --csv file".
func main() {
	csvFilePtr := flag.String("csvFile", csvFile, "file containing entries of a convergence study")
	flag.Parse()
	csvFile = *csvFilePtr
	if len(csvFile) == 0 {
		flag.Usage()
		os.Exit(1)
	}
	fmt.Printf("Input file: %v\n", csvFile)
	f, err := os.Open(csvFile)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	studies, err := Stokes2D.ReadStudiesCSV(bufio.NewReader(f))
	if err != nil {
		panic(err)
	}
	for _, rs := range studies {
		rs.Print()
		fmt.Println()
	}
}
