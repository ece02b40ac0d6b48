// SikioDB CLI — interface en ligne de commande interactive pour SikioDB.
//
// Usage :
//
//	sikiodb <fichier.sikio>
//	sikiodb                     (base en mémoire temporaire)
//
// Commandes spéciales (préfixées par .) :
//
//	.help       Affiche l'aide
//	.checkpoint Force un checkpoint
//	.verify     Vérifie l'intégrité des pages
//	.version    Affiche la version
//	.quit       Quitte le REPL
//	.exit       Quitte le REPL
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sikiodb/sikiodb"
)

const version = "1.0.0"

func main() {
	fmt.Printf("SikioDB v%s — magasin clé-valeur embarqué\n", version)
	fmt.Println("Tapez .help pour l'aide, .quit pour quitter.")
	fmt.Println()

	dbPath := ""
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	} else {
		dbPath = ":memory:"
	}

	var db *sikiodb.DB
	var err error
	if dbPath == ":memory:" {
		db, err = sikiodb.OpenMemory()
		fmt.Println("Mode mémoire (éphémère)")
	} else {
		db, err = sikiodb.Open(dbPath)
		fmt.Printf("Base : %s\n", dbPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Erreur d'ouverture : %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for {
		fmt.Print("sikiodb> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if handleCommand(db, line) {
				break
			}
			continue
		}
		executeQuery(db, line)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Erreur de lecture : %v\n", err)
	}
}

// handleCommand gère les commandes spéciales. Retourne true si on doit
// quitter.
func handleCommand(db *sikiodb.DB, cmd string) bool {
	parts := strings.Fields(cmd)
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		fmt.Println("Au revoir.")
		return true

	case ".help":
		printHelp()

	case ".checkpoint":
		if err := db.Checkpoint(); err != nil {
			fmt.Printf("  Erreur checkpoint : %v\n", err)
		} else {
			fmt.Println("  Checkpoint effectué")
		}

	case ".verify":
		corrupted, err := db.VerifyIntegrity()
		if err != nil {
			fmt.Printf("  Erreur : %v\n", err)
		} else if len(corrupted) == 0 {
			fmt.Println("  Toutes les pages sont valides")
		} else {
			fmt.Printf("  %d page(s) corrompue(s) : %v\n", len(corrupted), corrupted)
		}

	case ".version":
		fmt.Printf("  SikioDB v%s\n", version)

	default:
		fmt.Printf("  Commande inconnue : %s (tapez .help)\n", parts[0])
	}
	return false
}

func printHelp() {
	fmt.Println(`Commandes :
  get <clé>                       Lit une clé
  put <clé> <valeur>               Insère/remplace une clé
  put <clé> <valeur> ttl=<ms>       Insère avec expiration relative
  del <clé>                        Supprime une clé
  scan <début> <fin> [limite]      Parcourt une plage (- pour non borné)
  scanprefix <préfixe>             Parcourt toutes les clés d'un préfixe

Commandes spéciales :
  .checkpoint  Force un checkpoint
  .verify      Vérifie l'intégrité des pages
  .version     Affiche la version
  .help        Affiche cette aide
  .quit        Quitte`)
}

func executeQuery(db *sikiodb.DB, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch strings.ToLower(fields[0]) {
	case "get":
		if len(fields) != 2 {
			fmt.Println("  Usage : get <clé>")
			return
		}
		value, err := db.Get([]byte(fields[1]))
		if err != nil {
			fmt.Printf("  (absent) %v\n", err)
			return
		}
		fmt.Printf("  %s\n", string(value))

	case "put":
		if len(fields) < 3 {
			fmt.Println("  Usage : put <clé> <valeur> [ttl=<ms>]")
			return
		}
		key, value := fields[1], strings.Join(fields[2:], " ")
		if len(fields) >= 4 && strings.HasPrefix(fields[len(fields)-1], "ttl=") {
			value = strings.Join(fields[2:len(fields)-1], " ")
			ms, err := strconv.ParseInt(strings.TrimPrefix(fields[len(fields)-1], "ttl="), 10, 64)
			if err != nil {
				fmt.Printf("  ttl invalide : %v\n", err)
				return
			}
			if err := db.PutWithTTL([]byte(key), []byte(value), ms); err != nil {
				fmt.Printf("  Erreur : %v\n", err)
				return
			}
			fmt.Println("  OK")
			return
		}
		if err := db.Put([]byte(key), []byte(value)); err != nil {
			fmt.Printf("  Erreur : %v\n", err)
			return
		}
		fmt.Println("  OK")

	case "del":
		if len(fields) != 2 {
			fmt.Println("  Usage : del <clé>")
			return
		}
		deleted, err := db.Delete([]byte(fields[1]))
		if err != nil {
			fmt.Printf("  Erreur : %v\n", err)
			return
		}
		fmt.Printf("  %v\n", deleted)

	case "scan":
		if len(fields) < 3 {
			fmt.Println("  Usage : scan <début> <fin> [limite]")
			return
		}
		var start, end []byte
		if fields[1] != "-" {
			start = []byte(fields[1])
		}
		if fields[2] != "-" {
			end = []byte(fields[2])
		}
		limit := 0
		if len(fields) >= 4 {
			n, err := strconv.Atoi(fields[3])
			if err == nil {
				limit = n
			}
		}
		kvs, err := db.ScanRange(start, end, limit)
		if err != nil {
			fmt.Printf("  Erreur : %v\n", err)
			return
		}
		printKVs(kvs)

	case "scanprefix":
		if len(fields) != 2 {
			fmt.Println("  Usage : scanprefix <préfixe>")
			return
		}
		kvs, err := db.ScanPrefix([]byte(fields[1]))
		if err != nil {
			fmt.Printf("  Erreur : %v\n", err)
			return
		}
		printKVs(kvs)

	default:
		fmt.Printf("  Commande inconnue : %s (tapez .help)\n", fields[0])
	}
}

func printKVs(kvs []sikiodb.KV) {
	for _, kv := range kvs {
		fmt.Printf("  %s = %s\n", string(kv.Key), string(kv.Value))
	}
	fmt.Printf("  --- %d entrée(s)\n", len(kvs))
}
