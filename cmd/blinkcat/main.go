// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command blinkcat loads a Blink schema document and reports its shape,
// the way cmd/dump walks an Ion stream and prints what it finds. It is a
// schema inspector rather than a generic message dumper: Blink messages
// are only meaningful in terms of a host binding (blink.Binding), which
// only a Go program compiled against concrete message types can supply,
// so there is no schema-agnostic "decode any frame" mode to expose here.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mbrannstrom/blink"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("blinkcat: ")

	schemaPath := flag.String("schema", "", "path to a Blink schema YAML document")
	flag.Parse()

	if *schemaPath == "" {
		log.Fatal("-schema is required")
	}

	f, err := os.Open(*schemaPath)
	if err != nil {
		log.Fatalf("opening schema: %s", err)
	}
	defer f.Close()

	schema, err := blink.LoadSchema(f)
	if err != nil {
		log.Fatalf("loading schema: %s", err)
	}

	if err := describe(schema); err != nil {
		log.Fatal(err)
	}
}

func describe(schema *blink.Schema) error {
	for _, g := range schema.Groups() {
		id := "-"
		if g.ID != nil {
			id = fmt.Sprint(*g.ID)
		}
		super := ""
		if g.SuperGroup != "" {
			super = " : " + g.SuperGroup
		}
		fmt.Printf("group %s%s (id=%s)\n", g.Name, super, id)

		chain, err := schema.InheritanceChain(g.Name)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
		for _, anc := range chain {
			for _, f := range anc.Fields {
				fid := "-"
				if f.ID != nil {
					fid = fmt.Sprint(*f.ID)
				}
				req := ""
				if f.Required {
					req = " required"
				}
				fmt.Printf("  %-20s %-10s id=%s%s\n", f.Name, f.Type.Kind, fid, req)
			}
		}
	}
	return nil
}
