package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/SezarMAB/clinicx-session/internal/bootstrap"
	"github.com/SezarMAB/clinicx-session/internal/config"
	"github.com/SezarMAB/clinicx-session/internal/httpcb"
	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
)

// printNav es el Navigator de consola: no hay browser embebido, así que la
// URL de autorización se imprime para abrirla a mano.
type printNav struct{}

func (printNav) Navigate(u string) {
	fmt.Printf("\nOpen this URL in your browser:\n\n  %s\n\n", u)
}

func main() {
	config.LoadEnv()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("configs/config.example.yaml"); err == nil {
			cfgPath = "configs/config.example.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Nav: printNav{}})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer core.Close()
	defer logger.Sync()

	// Password grant si vienen credenciales por entorno (headless).
	if user := os.Getenv("CLINICX_USERNAME"); user != "" {
		ok, err := core.Facade.Login(ctx, user, os.Getenv("CLINICX_PASSWORD"))
		if err != nil || !ok {
			log.Fatalf("login: %v", err)
		}
		report(core)
		return
	}

	// Flujo de redirect: listener loopback + URL impresa por printNav.
	if cfg.Callback.Addr == "" {
		log.Fatal("no credentials in env and no callback.addr configured")
	}
	lst := httpcb.New(cfg.Callback.Addr, cfg.Callback.Path, core.IdP)
	go func() {
		if err := lst.Start(ctx); err != nil {
			log.Fatalf("callback listener: %v", err)
		}
	}()

	if err := core.Facade.LoginWithRedirect(ctx, "", ""); err != nil {
		log.Fatalf("redirect login: %v", err)
	}

	ok, err := lst.Wait(ctx)
	if err != nil {
		log.Fatalf("waiting for callback: %v", err)
	}
	if !ok {
		log.Fatalf("login failed: %s", core.Facade.LastError())
	}
	report(core)
}

func report(core *bootstrap.Core) {
	id := core.Facade.Identity()
	fmt.Printf("logged in as %s <%s>\n", id.Name, id.Email)
	if tc, ok := core.Resolver.Current(); ok {
		fmt.Printf("active tenant: %s (%s)\n", tc.ClinicName, tc.TenantID)
	}
	if roles := core.Policy.CurrentTenantRoles(); len(roles) > 0 {
		fmt.Printf("tenant roles: %v (highest %s)\n", roles, core.Policy.HighestRole())
	}
	if gr := core.Policy.GlobalRoles(); len(gr) > 0 {
		fmt.Printf("global roles: %v\n", gr)
	}
}
