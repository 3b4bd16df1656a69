// Command soycheck runs the expression parser and the contextual HTML
// rewriter over fixture files and prints every diagnostic they report.
//
// Files ending in .expr are treated as one expression per line (blank lines
// and lines starting with # are skipped); everything else is treated as the
// body of a template whose content kind is given by -kind. With -watch, the
// files are re-checked whenever they change on disk.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tplforge/soycore/ast"
	"github.com/tplforge/soycore/exprparse"
	"github.com/tplforge/soycore/htmlrewrite"
)

// Logger is used to print notifications and errors when using -watch.
var Logger = log.New(os.Stderr, "[soycheck] ", 0)

var (
	kind     = flag.String("kind", "html", "content kind of non-.expr files (html, attributes, text, css, js, uri)")
	features = flag.String("features", "stricthtml", "comma-separated experimental features passed to the rewriter")
	watch    = flag.Bool("watch", false, "re-check files whenever they change")
)

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: soycheck [-kind html] [-features stricthtml] [-watch] file...")
		os.Exit(2)
	}

	files := flag.Args()
	errCount := checkAll(files)
	if *watch {
		watchFiles(files)
		return
	}
	if errCount > 0 {
		os.Exit(1)
	}
}

// checkAll checks every file and prints a locale-aware summary line.
// It returns the number of error-severity diagnostics, plus one for each
// file that could not be read.
func checkAll(files []string) int {
	var errCount int
	for _, f := range files {
		errCount += checkFile(f)
	}
	p := message.NewPrinter(language.English)
	p.Fprintf(os.Stderr, "soycheck: %d errors in %d files\n", errCount, len(files))
	return errCount
}

func checkFile(name string) int {
	data, err := os.ReadFile(name)
	if err != nil {
		Logger.Println(err)
		return 1
	}
	errs := ast.NewReporter()
	if filepath.Ext(name) == ".expr" {
		checkExprFile(name, string(data), errs)
	} else {
		checkTemplateFile(name, string(data), errs)
	}
	var errCount int
	for _, d := range errs.Diagnostics() {
		sev := "error"
		if d.Severity == ast.SeverityWarning {
			sev = "warning"
		} else {
			errCount++
		}
		fmt.Printf("%s: %s: %s: %s\n", d.Location, sev, d.Kind, d.Message)
	}
	return errCount
}

// checkExprFile parses each non-blank, non-comment line as one expression.
func checkExprFile(name, content string, errs ast.ErrorReporter) {
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		base := ast.Point{Filename: name, Line: i + 1, Col: len(line) - len(strings.TrimLeft(line, " \t")) + 1}
		exprparse.ParseExpression(name, trimmed, base, errs)
	}
}

// checkTemplateFile runs the HTML rewriter over the whole file as one
// raw-text body of the configured content kind.
func checkTemplateFile(name, content string, errs ast.ErrorReporter) {
	ids := ast.NewIdGenerator()
	start := ast.Point{Filename: name, Line: 1, Col: 1}
	text := ast.NewRawTextNode(ids.Gen(), ast.SourceLocation{Start: start, End: start}, content)
	file := &ast.SoyFileNode{
		Name: name,
		Text: content,
		Kind: ast.ContentKind(*kind),
		Body: []ast.Node{text},
	}
	r := htmlrewrite.New(strings.Split(*features, ","), errs)
	r.Run(file, ids)
}

// watchFiles re-checks everything whenever one of the files changes,
// logging through Logger so watch mode reads like a compiler loop.
func watchFiles(files []string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		Logger.Fatal(err)
	}
	defer watcher.Close()
	for _, f := range files {
		if err := watcher.Add(f); err != nil {
			Logger.Fatal(err)
		}
	}
	Logger.Printf("watching %d files", len(files))
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Editors often rename or remove the file on save, which drops
			// the watch. Add it back after a delay.
			if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(10 * time.Millisecond)
				if err := watcher.Add(ev.Name); err != nil {
					Logger.Println(err)
					continue
				}
			}
			checkAll(files)
			Logger.Printf("update successful (%v)", ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			Logger.Println(err)
		}
	}
}
