package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rs/zerolog"

	"github.com/strata-dev/strata/pkg/engine"
	"github.com/strata-dev/strata/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		ConnMaxLifetime: 5 * time.Minute,
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

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleRecorder records an engine run and reads its history back.
func ExampleRecorder() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	e := engine.New(engine.WithObservers(stores.NewRecorder(store, zerolog.Nop())))
	_ = e.RegisterUnit(engine.UnitDescriptor{
		Name:     "route53",
		Produces: []string{"hostedZone"},
		Builder: engine.BuilderFunc(func(context.Context, engine.Capabilities) (engine.Capabilities, error) {
			return engine.Capabilities{"hostedZone": "Z123EXAMPLE"}, nil
		}),
	})
	_ = e.RegisterProfile("dev", []string{"route53"})

	run, err := e.Run(ctx, "dev")
	if err != nil {
		log.Fatal(err)
	}

	runs, _ := store.ListRuns(ctx, nil, 10, 0)
	fmt.Println(len(runs), runs[0].Profile, runs[0].Status)

	caps, _ := stores.LoadCapabilities(ctx, store, run.ID)
	fmt.Println(caps["hostedZone"])

	// Output:
	// 1 dev succeeded
	// Z123EXAMPLE
}
