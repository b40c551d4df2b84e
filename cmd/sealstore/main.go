// Command sealstore is a small CLI over an encrypted tag-searchable store:
// provision a store, insert and fetch entries, list by tag filter, and
// manage profiles.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/ai8future/sealstore"
)

const passphraseEnv = "SEALSTORE_PASSPHRASE"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "init":
		runInit(args)
	case "insert":
		runInsert(args)
	case "get":
		runGet(args)
	case "list":
		runList(args)
	case "profiles":
		runProfiles(args)
	case "prune":
		runPrune(args)
	default:
		fmt.Fprintf(os.Stderr, "sealstore: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sealstore <command> [options]

Commands:
  init        Create a sealstore.yaml config and provision the store
  insert      Insert or replace an entry
  get         Fetch an entry by category and name
  list        List entries in a category, optionally by tag equality
  profiles    List, create, or remove profiles
  prune       Remove expired entries

The store passphrase is read from the %s environment variable.
`, passphraseEnv)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// openStore loads the config and opens the store with the passphrase from
// the environment.
func openStore() (*sealstore.Store, *Config) {
	cwd, err := os.Getwd()
	if err != nil {
		fatal(err)
	}
	cfg, err := LoadConfig(ConfigPath(cwd))
	if err != nil {
		fatal(err)
	}
	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		fatal(fmt.Errorf("%s is not set", passphraseEnv))
	}
	store, err := sealstore.Open(cfg.URI, sealstore.WithPassphrase(passphrase))
	if err != nil {
		fatal(err)
	}
	return store, cfg
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	uri := fs.String("uri", "sqlite://sealstore.db", "Store connection URI")
	force := fs.Bool("force", false, "Overwrite existing configuration")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fatal(err)
	}
	path := ConfigPath(cwd)
	if _, err := os.Stat(path); err == nil && !*force {
		fatal(fmt.Errorf("%s already exists (use --force to overwrite)", path))
	}
	cfg := DefaultConfig()
	cfg.URI = *uri
	if err := SaveConfig(cfg, path); err != nil {
		fatal(err)
	}

	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		fatal(fmt.Errorf("%s is not set", passphraseEnv))
	}
	store, err := sealstore.Open(cfg.URI, sealstore.WithPassphrase(passphrase))
	if err != nil {
		fatal(err)
	}
	defer store.Close()
	fmt.Printf("Created %s and provisioned %s\n", path, cfg.URI)
}

// parseTags turns repeated --tag name=value flags into Tags. Names starting
// with "~" are stored in plaintext and support range queries.
func parseTags(specs []string) ([]sealstore.Tag, error) {
	tags := make([]sealstore.Tag, 0, len(specs))
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("tag %q must be name=value", spec)
		}
		tags = append(tags, sealstore.Tag{Name: name, Value: value})
	}
	return tags, nil
}

func runInsert(args []string) {
	fs := flag.NewFlagSet("insert", flag.ExitOnError)
	category := fs.String("category", "", "Entry category (required)")
	name := fs.String("name", "", "Entry name (required)")
	value := fs.String("value", "", "Entry value (required)")
	tagSpecs := fs.StringArray("tag", nil, "Tag as name=value (repeatable; prefix name with ~ for plaintext)")
	replace := fs.Bool("replace", false, "Replace an existing entry instead of failing")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *category == "" || *name == "" {
		fatal(fmt.Errorf("--category and --name are required"))
	}
	tags, err := parseTags(*tagSpecs)
	if err != nil {
		fatal(err)
	}

	store, cfg := openStore()
	defer store.Close()

	ctx := context.Background()
	session, err := store.Session(ctx, cfg.Profile)
	if err != nil {
		fatal(err)
	}
	defer session.Close()

	entry := &sealstore.Entry{
		Category: *category,
		Name:     *name,
		Value:    []byte(*value),
		Tags:     tags,
	}
	if *replace {
		err = session.Replace(ctx, entry)
	} else {
		err = session.Insert(ctx, entry)
	}
	if err != nil {
		fatal(err)
	}
}

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	category := fs.String("category", "", "Entry category (required)")
	name := fs.String("name", "", "Entry name (required)")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *category == "" || *name == "" {
		fatal(fmt.Errorf("--category and --name are required"))
	}

	store, cfg := openStore()
	defer store.Close()

	ctx := context.Background()
	session, err := store.Session(ctx, cfg.Profile)
	if err != nil {
		fatal(err)
	}
	defer session.Close()

	entry, err := session.Fetch(ctx, *category, *name, false)
	if err != nil {
		fatal(err)
	}
	os.Stdout.Write(entry.Value)
	fmt.Println()
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	category := fs.String("category", "", "Entry category (required)")
	tagSpecs := fs.StringArray("tag", nil, "Equality filter as name=value (repeatable, ANDed)")
	limit := fs.Int64("limit", -1, "Maximum entries to return")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *category == "" {
		fatal(fmt.Errorf("--category is required"))
	}

	var filter *sealstore.TagFilter
	if len(*tagSpecs) > 0 {
		tags, err := parseTags(*tagSpecs)
		if err != nil {
			fatal(err)
		}
		clauses := make([]*sealstore.TagFilter, 0, len(tags))
		for _, t := range tags {
			clauses = append(clauses, sealstore.Eq(t.Name, t.Value))
		}
		filter = sealstore.And(clauses...)
	}

	store, cfg := openStore()
	defer store.Close()

	ctx := context.Background()
	scan, err := store.Scan(ctx, cfg.Profile, *category, filter, *limit, 0)
	if err != nil {
		fatal(err)
	}
	defer scan.Close()
	for scan.Next() {
		entry := scan.Entry()
		fmt.Printf("%s/%s\t%d bytes\t%d tags\n",
			entry.Category, entry.Name, len(entry.Value), len(entry.Tags))
	}
	if err := scan.Err(); err != nil {
		fatal(err)
	}
}

func runProfiles(args []string) {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	create := fs.String("create", "", "Create a profile with the given name")
	remove := fs.String("remove", "", "Remove the named profile")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	store, _ := openStore()
	defer store.Close()

	ctx := context.Background()
	switch {
	case *create != "":
		name, err := store.CreateProfile(ctx, *create)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Created profile %s\n", name)
	case *remove != "":
		if err := store.RemoveProfile(ctx, *remove); err != nil {
			fatal(err)
		}
		fmt.Printf("Removed profile %s\n", *remove)
	default:
		def := store.DefaultProfile()
		for _, name := range store.ListProfiles() {
			marker := " "
			if name == def {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
	}
}

func runPrune(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	store, _ := openStore()
	defer store.Close()

	n, err := store.PruneExpired(context.Background())
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Removed %d expired entries\n", n)
}
