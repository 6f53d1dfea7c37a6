// Command mongolite is the embedded database's command-line front end.
// Grounded on the teacher's StartDB REPL loop and RegisterCommands table
// (filodb_engine.go, filodb_commands.go), restructured onto
// github.com/spf13/cobra's subcommand model instead of a hand-rolled
// switch over a bufio.Reader line.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/spf13/cobra"

	"mongolite"
	"mongolite/dberr"
	"mongolite/internal/index"
)

var (
	dbPath     string
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "mongolite",
		Short: "embedded document database CLI",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "mongolite.db", "path to the database file")
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file (overrides --db)")

	root.AddCommand(
		newInsertCmd(),
		newFindCmd(),
		newIndexCmd(),
		newStatsCmd(),
		newShellCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, dberr.FormatForCLI(err))
		os.Exit(dberr.ExitCode(err))
	}
}

func openDB() (*mongolite.Database, error) {
	if configPath != "" {
		cfg, err := mongolite.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		return mongolite.OpenConfig(cfg)
	}
	return mongolite.Open(dbPath)
}

func parseDoc(raw string) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(raw), true, &doc); err != nil {
		return nil, dberr.Wrap(dberr.CodeInvalidArgument, "mongolite-cli", err, "parse JSON document")
	}
	return doc, nil
}

func printDoc(doc bson.D) {
	raw, err := bson.MarshalExtJSON(doc, true, false)
	if err != nil {
		fmt.Println(dberr.FormatForCLI(err))
		return
	}
	fmt.Println(string(raw))
}

func newInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <collection> <json-document>",
		Short: "insert one document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			doc, err := parseDoc(args[1])
			if err != nil {
				return err
			}
			col, err := db.CreateOrOpenCollection(args[0])
			if err != nil {
				return err
			}
			id, err := col.InsertOne(doc)
			if err != nil {
				return err
			}
			fmt.Println(id.Hex())
			return nil
		},
	}
}

func newFindCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "find <collection> [json-filter]",
		Short: "find documents matching an optional filter",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			filter := bson.D{}
			if len(args) == 2 {
				filter, err = parseDoc(args[1])
				if err != nil {
					return err
				}
			}
			col, err := db.Collection(args[0])
			if err != nil {
				return err
			}
			cur, err := col.Find(filter)
			if err != nil {
				return err
			}
			if limit > 0 {
				if err := cur.SetLimit(limit); err != nil {
					return err
				}
			}
			defer cur.Destroy()
			for {
				doc, ok := cur.Next()
				if !ok {
					break
				}
				printDoc(doc)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of documents to print")
	return cmd
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "manage secondary indexes",
	}
	cmd.AddCommand(newIndexCreateCmd(), newIndexDropCmd(), newIndexListCmd())
	return cmd
}

func newIndexCreateCmd() *cobra.Command {
	var unique, sparse bool
	var ttl int
	cmd := &cobra.Command{
		Use:   "create <collection> <name> <field[,field...]>",
		Short: "create a secondary index",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			col, err := db.Collection(args[0])
			if err != nil {
				return err
			}
			_, err = col.CreateIndex(indexDefFromArgs(args[1], args[2], unique, sparse, ttl))
			return err
		},
	}
	cmd.Flags().BoolVar(&unique, "unique", false, "reject duplicate key tuples")
	cmd.Flags().BoolVar(&sparse, "sparse", false, "skip documents missing the indexed field")
	cmd.Flags().IntVar(&ttl, "ttl-seconds", 0, "expire documents this many seconds after the indexed field's timestamp")
	return cmd
}

func newIndexDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <collection> <name>",
		Short: "drop a secondary index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			col, err := db.Collection(args[0])
			if err != nil {
				return err
			}
			return col.DropIndex(args[1])
		},
	}
}

func newIndexListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "list secondary indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			col, err := db.Collection(args[0])
			if err != nil {
				return err
			}
			for _, def := range col.ListIndexes() {
				fmt.Printf("%s\t%v\tunique=%v sparse=%v ttl=%ds\n", def.Name, def.Fields, def.Unique, def.Sparse, def.TTLSeconds)
			}
			return nil
		},
	}
}

func indexDefFromArgs(name, fieldList string, unique, sparse bool, ttl int) index.Def {
	return index.Def{
		Name:       name,
		Fields:     strings.Split(fieldList, ","),
		Unique:     unique,
		Sparse:     sparse,
		TTLSeconds: int32(ttl),
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print page-store sizing and collection list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			stats := db.Stats()
			fmt.Printf("boot_id\t%s\n", db.BootID())
			fmt.Printf("version\t%d\n", stats.Version)
			fmt.Printf("file_bytes\t%d\n", stats.FileBytes)
			fmt.Printf("max_bytes\t%d\n", stats.MaxBytes)
			fmt.Printf("pages_flushed\t%d\n", stats.PagesFlushed)
			fmt.Printf("active_readers\t%d\n", stats.ActiveReaders)
			for _, name := range db.ListCollections() {
				col, err := db.Collection(name)
				if err != nil {
					continue
				}
				n, _ := col.Count()
				fmt.Printf("collection\t%s\t%d docs\n", name, n)
			}
			return nil
		},
	}
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "interactive read-eval-print loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			runShell(db)
			return nil
		},
	}
}

// runShell is a minimal REPL over an already-open Database: one command
// per line, space-separated, with the last argument allowed to be a
// JSON blob containing its own spaces. Mirrors the teacher's StartDB
// input loop (bufio.Reader + command dispatch), generalized from SQL-
// like verbs to collection/filter/document verbs.
func runShell(db *mongolite.Database) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("mongolite shell. Commands: insert, find, count, indexes, collections, exit")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		switch fields[0] {
		case "exit", "quit":
			return
		case "collections":
			for _, name := range db.ListCollections() {
				fmt.Println(name)
			}
		case "count":
			if len(fields) < 2 {
				fmt.Println("usage: count <collection>")
				continue
			}
			col, err := db.Collection(fields[1])
			if err != nil {
				fmt.Println(dberr.FormatForCLI(err))
				continue
			}
			n, err := col.Count()
			if err != nil {
				fmt.Println(dberr.FormatForCLI(err))
				continue
			}
			fmt.Println(strconv.FormatInt(n, 10))
		case "insert":
			if len(fields) < 3 {
				fmt.Println("usage: insert <collection> <json-document>")
				continue
			}
			col, err := db.CreateOrOpenCollection(fields[1])
			if err != nil {
				fmt.Println(dberr.FormatForCLI(err))
				continue
			}
			doc, err := parseDoc(fields[2])
			if err != nil {
				fmt.Println(dberr.FormatForCLI(err))
				continue
			}
			id, err := col.InsertOne(doc)
			if err != nil {
				fmt.Println(dberr.FormatForCLI(err))
				continue
			}
			fmt.Println(id.Hex())
		case "find":
			if len(fields) < 2 {
				fmt.Println("usage: find <collection> [json-filter]")
				continue
			}
			col, err := db.Collection(fields[1])
			if err != nil {
				fmt.Println(dberr.FormatForCLI(err))
				continue
			}
			filter := bson.D{}
			if len(fields) == 3 {
				filter, err = parseDoc(fields[2])
				if err != nil {
					fmt.Println(dberr.FormatForCLI(err))
					continue
				}
			}
			cur, err := col.Find(filter)
			if err != nil {
				fmt.Println(dberr.FormatForCLI(err))
				continue
			}
			for {
				doc, ok := cur.Next()
				if !ok {
					break
				}
				printDoc(doc)
			}
		case "indexes":
			if len(fields) < 2 {
				fmt.Println("usage: indexes <collection>")
				continue
			}
			col, err := db.Collection(fields[1])
			if err != nil {
				fmt.Println(dberr.FormatForCLI(err))
				continue
			}
			for _, def := range col.ListIndexes() {
				fmt.Printf("%s\t%v\n", def.Name, def.Fields)
			}
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
