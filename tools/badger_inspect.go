package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"ringside/domain"
	"ringside/repositories"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

const previewLength = 48

func main() {
	dbPath := flag.String("db", "./data/messages", "Path to badger DB")
	userA := flag.String("a", "", "First participant (optional)")
	userB := flag.String("b", "", "Second participant (required with -a)")
	flag.Parse()

	prefix := "dm:"
	if *userA != "" || *userB != "" {
		if *userA == "" || *userB == "" {
			log.Fatal("both -a and -b are required to inspect a single thread")
		}
		prefix = repositories.ThreadPrefix(domain.UserID(*userA), domain.UserID(*userB))
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "ID", "Sender", "Recipient", "Created At", "Body"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var m domain.Message
				if err := json.Unmarshal(v, &m); err != nil {
					fmt.Printf("Error decoding key %s: %v\n", string(item.Key()), err)
					return nil
				}
				table.Append([]string{
					string(item.Key()),
					strconv.FormatUint(m.ID, 10),
					m.SenderID.String(),
					m.RecipientID.String(),
					m.CreatedAt.Format("2006-01-02 15:04:05.000"),
					preview(m.Body),
				})
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("\n%d message(s) under %q\n", count, prefix)
}

func preview(body string) string {
	body = strings.ReplaceAll(body, "\n", " ")
	if len([]rune(body)) > previewLength {
		return string([]rune(body)[:previewLength]) + "…"
	}
	return body
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
