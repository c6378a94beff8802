package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/openvna/vnad/pkg/client"
)

var (
	socketPath = flag.String("socket", "/tmp/vnad.sock", "Unix socket path")
	command    = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'SWEEP:START')")
)

func main() {
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	// If no command specified, show interactive help
	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	client := client.NewSocketClient(*socketPath)

	response, err := client.SendCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", response.String())
}

func showHelp() {
	fmt.Println("vnactl - VNA Daemon Control Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/vnad.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                         Get instrument status")
	fmt.Println("  SWEEP:START                    Start a sweep")
	fmt.Println("  SWEEP:ABORT                    Abort the running sweep")
	fmt.Println("  CONFIG:get:<key>               Read a sweep setting")
	fmt.Println("  CONFIG:set:<key>:<value>       Change a sweep setting")
	fmt.Println("  CAL:restart                    Begin a calibration run")
	fmt.Println("  CAL:measure:<standard>         Measure open, short, load, thru or isolation")
	fmt.Println("  CAL:compute                    Compute and enable error correction")
	fmt.Println("  CAL:off                        Disable error correction")
	fmt.Println("  CAL:save:<name>                Save the calibration")
	fmt.Println("  CAL:load:<name>                Load a saved calibration")
	fmt.Println("  TRACE                          Get the latest trace as JSON")
	fmt.Println("  TRACE:touchstone               Get the latest trace as Touchstone")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s 'CONFIG:set:points:201'\n", os.Args[0])
	fmt.Printf("  %s 'CAL:measure:open'\n", os.Args[0])
	fmt.Printf("  echo 'STATUS' | nc -U /tmp/vnad.sock\n")
}
