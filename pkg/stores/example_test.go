package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a store.
func ExampleNewSQLiteStore() {
	dir, err := os.MkdirTemp("", "opentweak-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(dir, "state.db"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("store initialized")
	// Output: store initialized
}

// ExampleSQLiteStore_SetValue demonstrates the config store surface.
func ExampleSQLiteStore_SetValue() {
	dir, err := os.MkdirTemp("", "opentweak-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(dir, "state.db"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.SetValue(ctx, "user", "themes/personalize", "apps_use_light_theme",
		catalog.NewIntValue(0), catalog.ValueKindDWord)
	if err != nil {
		log.Fatal(err)
	}

	value, found, err := store.GetValue(ctx, "user", "themes/personalize", "apps_use_light_theme")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("found=%t value=%s\n", found, value)
	// Output: found=true value=0
}
