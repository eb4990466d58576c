package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Dataset column names. Numeric columns are declared without a type so
// dirty values (blank strings, "n/a") survive as text, the way the source
// exports arrive.
const (
	ColStoreID     = "une"
	ColStoreName   = "une_nome"
	ColProductID   = "codigo"
	ColProductName = "nome_produto"
	ColSegment     = "nomesegmento"
	ColCategory    = "nomecategoria"
	ColSales30d    = "venda_30_d"
	ColStock       = "estoque_atual"
	ColPrice       = "preco_venda"
	ColDate        = "data"
)

// SaleRow is one line of the sales dataset
type SaleRow struct {
	StoreID     int
	StoreName   string
	ProductID   string
	ProductName string
	Segment     string
	Category    string
	Sales30d    interface{}
	Stock       interface{}
	Price       interface{}
	Date        string
}

// CreateDataset opens (or creates) a writable SQLite dataset and ensures the table exists
func CreateDataset(dbPath, table string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		%s INTEGER,
		%s TEXT,
		%s TEXT,
		%s TEXT,
		%s TEXT,
		%s TEXT,
		%s,
		%s,
		%s,
		%s TEXT
	);`, quoteIdent(table),
		ColStoreID, ColStoreName, ColProductID, ColProductName, ColSegment,
		ColCategory, ColSales30d, ColStock, ColPrice, ColDate)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InsertSales appends rows in one transaction
func InsertSales(db *sql.DB, table string, rows []SaleRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quoteIdent(table), ColStoreID, ColStoreName, ColProductID, ColProductName, ColSegment,
		ColCategory, ColSales30d, ColStock, ColPrice, ColDate))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		var date interface{}
		if r.Date != "" {
			date = r.Date
		}
		if _, err := stmt.Exec(r.StoreID, r.StoreName, r.ProductID, r.ProductName, r.Segment,
			r.Category, r.Sales30d, r.Stock, r.Price, date); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
