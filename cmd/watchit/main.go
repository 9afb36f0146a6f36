package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ciresnave/watchit"
)

func main() {

	if len(os.Args) < 2 {
		log.Fatalln("Please provide at least one path to watch")
	}

	w, err := watchit.New(func(ev watchit.ChangeEvent) {
		switch ev.Kind {
		case watchit.Created:
			log.Printf("[+] %s\n", ev.Path)
		case watchit.Removed:
			log.Printf("[-] %s\n", ev.Path)
		default:
			log.Printf("[~] %s (%s)\n", ev.Path, ev.Kind)
		}
	}, watchit.WithErrorHandler(func(engineErr watchit.EngineError) {
		log.Printf("engine error: %s", engineErr)
	}))
	if err != nil {
		log.Fatalln(err)
	}
	defer w.Stop()

	for _, path := range os.Args[1:] {
		info, err := os.Stat(path)
		if err != nil {
			log.Fatalln(err)
		}
		if info.IsDir() {
			err = w.WatchDir(path, false)
		} else {
			err = w.Watch(path)
		}
		if err != nil {
			log.Fatalln(err)
		}
	}

	// Wait until SIGINT/SIGTERM (Ctrl+C)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
}
