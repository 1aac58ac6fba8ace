// Command genapps populates cmd/kernel/apps with the ELF images
// go:embed bundles into the kernel binary, generating a small
// manifest.go alongside them and (with --watch) regenerating whenever
// the source directory changes.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/tools/imports"
)

func main() {
	src := flag.String("src", "", "directory of compiled ELF user applications")
	dst := flag.String("dst", "cmd/kernel/apps", "embedded apps directory to populate")
	watch := flag.Bool("watch", false, "keep running and regenerate on every change to -src")
	flag.Parse()

	if *src == "" {
		log.Fatal("genapps: -src is required")
	}
	if err := generate(*src, *dst); err != nil {
		log.Fatalf("genapps: %v", err)
	}
	if !*watch {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatalf("genapps: %v", err)
	}
	defer w.Close()
	if err := w.Add(*src); err != nil {
		log.Fatalf("genapps: watching %s: %v", *src, err)
	}
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := generate(*src, *dst); err != nil {
				log.Printf("genapps: regenerate: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("genapps: watch error: %v", err)
		}
	}
}

func generate(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	var names []string
	var totalBytes int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name()))
		if err != nil {
			return fmt.Errorf("copying %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
		totalBytes += n
		p.Printf("genapps: %s (%d bytes)\n", e.Name(), n)
	}
	sort.Strings(names)
	p.Printf("genapps: %d applications embedded, %d bytes total\n", len(names), totalBytes)

	return writeManifest(dst, names)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	return io.Copy(out, in)
}

func writeManifest(dst string, names []string) error {
	var b strings.Builder
	b.WriteString("package apps\n\n")
	b.WriteString("// Names lists every application genapps embedded, in the order\n")
	b.WriteString("// loader.NewTable will see them.\n")
	b.WriteString("var Names = []string{\n")
	for _, n := range names {
		fmt.Fprintf(&b, "\t%q,\n", n)
	}
	b.WriteString("}\n")

	formatted, err := imports.Process("manifest.go", []byte(b.String()), nil)
	if err != nil {
		return fmt.Errorf("formatting manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dst, "manifest.go"), formatted, 0o644)
}
