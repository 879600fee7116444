package main

import (
	"context"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"loom/config"
	"loom/db"
	"loom/experience"
	"loom/handlers"
	"loom/orchestrator"
	"loom/platform/shutdown"
	"loom/policy"
	"loom/providers"
	"loom/skills"
)

func main() {
	cfg := config.Load()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.LogErr(err, "failed to open database")
		return
	}

	plans := db.NewPlanStore(database)
	executions := db.NewExecutionStore(database)
	experiences := db.NewExperienceStore(database)
	billing := db.NewBillingStore(database)
	tenants := db.NewTenantStore(database)
	permissions := db.NewPermissionStore(database)

	catalog := providers.DefaultRegistry()
	router := providers.NewRouter(catalog, tenants, experiences)
	client := providers.NewHTTPClient(catalog, billing)

	orch := orchestrator.New(orchestrator.Options{
		Plans:       plans,
		Executions:  executions,
		Experiences: experiences,
		Router:      router,
		Client:      client,
		Gate:        policy.NewStoreGate(permissions),
		Registry:    skills.DefaultRegistry(),
		Builder:     skills.NewHTTPBuilder(),
	})

	loop := experience.NewLoop(experiences, router, client, cfg.AdaptationInterval)
	recorder := experience.NewRecorder(experiences, loop)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)

	s := rweb.NewServer(rweb.ServerOptions{
		Address: cfg.Address,
		Verbose: true,
	})
	s.Use(rweb.RequestInfo)

	h := handlers.New(orch, plans, recorder, experiences, billing, tenants, permissions, catalog)
	h.SetupRoutes(s)

	svc := shutdown.NewService()
	svc.RegisterHook(func(_ time.Duration) error {
		stopLoop()
		return nil
	})
	svc.RegisterHook(func(_ time.Duration) error {
		return database.Close()
	})
	done := make(chan struct{})
	svc.Watch(done)

	logger.Info("Starting loom server", "address", cfg.Address)
	go func() {
		if err := s.Run(); err != nil {
			logger.LogErr(err, "server stopped")
		}
	}()

	<-done
	logger.Info("Shutdown complete")
}
