package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"profileserver/internal/blobstore"
	"profileserver/internal/config"
	"profileserver/internal/dispatch"
	"profileserver/internal/idcrypto"
	"profileserver/internal/identity"
	"profileserver/internal/listen"
	"profileserver/internal/obslog"
	"profileserver/internal/registry"
	"profileserver/internal/relay"
	"profileserver/internal/replication"
	"profileserver/internal/search"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runServe(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "follow":
		return runFollow(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: profileserver <run|status|keygen|follow> [args]")
	fmt.Fprintln(w, "  run    [--config name] [--home dir]")
	fmt.Fprintln(w, "  status [--config name] [--home dir]")
	fmt.Fprintln(w, "  keygen [--home dir]")
	fmt.Fprintln(w, "  follow --addr <host:port> [--home dir]")
}

func defaultHomeDir() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return ".profileserver"
	}
	return filepath.Join(h, ".profileserver")
}

// loadConfig reads the named config file, falling back silently to
// Defaults() if it can't be found. HomeDir is overridden by home when
// the command line supplied one; ServerID falls back to
// "profileserver-local" when the config leaves it empty.
func loadConfig(name, home string) (*config.Config, error) {
	cfg, err := config.Load(name)
	if err != nil {
		return nil, err
	}
	if home != "" {
		cfg.HomeDir = home
	}
	if cfg.ServerID == "" {
		cfg.ServerID = "profileserver-local"
	}
	return cfg, nil
}

// serverKeypair loads this server's long-term Ed25519 identity from
// cfg.HomeDir, generating and persisting one on first run.
func serverKeypair(cfg *config.Config) (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	keyDir := filepath.Join(cfg.HomeDir, "keys")
	loadedPub, loadedPriv, loadErr := idcrypto.LoadKeypair(keyDir)
	if loadErr == nil {
		return loadedPub, loadedPriv, nil
	}
	genPub, genPriv, genErr := idcrypto.GenerateKeypair()
	if genErr != nil {
		return nil, nil, genErr
	}
	if err := idcrypto.SaveKeypair(keyDir, genPub, genPriv); err != nil {
		return nil, nil, err
	}
	return genPub, genPriv, nil
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	home := fs.String("home", "", "server home directory (default ~/.profileserver)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	dir := *home
	if dir == "" {
		dir = defaultHomeDir()
	}
	keyDir := filepath.Join(dir, "keys")
	if _, _, err := idcrypto.LoadKeypair(keyDir); err == nil {
		fmt.Fprintf(stderr, "keygen: a keypair already exists under %s\n", keyDir)
		return 1
	}
	pub, priv, err := idcrypto.GenerateKeypair()
	if err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	if err := idcrypto.SaveKeypair(keyDir, pub, priv); err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "identity_id=%s\n", idcrypto.DeriveIdentityID(pub).String())
	fmt.Fprintf(stdout, "keys written under %s\n", keyDir)
	return 0
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configName := fs.String("config", "profileserver", "config file basename (yaml, searched in ./config and .)")
	home := fs.String("home", "", "server home directory (default ~/.profileserver)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configName, *home)
	if err != nil {
		fmt.Fprintf(stderr, "run: load config: %v\n", err)
		return 1
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir = defaultHomeDir()
	}
	if cfg.BlobDir == "" || !filepath.IsAbs(cfg.BlobDir) {
		cfg.BlobDir = filepath.Join(cfg.HomeDir, cfg.BlobDir)
	}

	pub, priv, err := serverKeypair(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "run: server keypair: %v\n", err)
		return 1
	}

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		fmt.Fprintf(stderr, "run: open store: %v\n", err)
		return 1
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := st.CreateSchema(ctx); err != nil {
		fmt.Fprintf(stderr, "run: create schema: %v\n", err)
		return 1
	}

	blobs, err := blobstore.New(cfg.BlobDir)
	if err != nil {
		fmt.Fprintf(stderr, "run: open blob store: %v\n", err)
		return 1
	}

	clients := registry.NewClientRegistry(cfg.MaxHostedIdentities)
	relayEngine := relay.New(clients, st, cfg)
	searchHandlers := search.New(st, blobs, clients, cfg, cfg.ServerID)
	identityHandlers := identity.New(st, blobs, clients, cfg, cfg.ServerID, pub, priv)
	replicationHandlers := replication.New(st, blobs, cfg)
	replicationWorker := replication.NewWorker(st, blobs, cfg, pub, priv)

	table := buildDispatchTable(identityHandlers, relayEngine, searchHandlers, replicationHandlers)

	srv := &listen.Server{
		Table:    table,
		Registry: clients,
		Relay:    relayEngine,
		Store:    st,
		Config:   cfg,
	}

	go relayEngine.Run(ctx)
	go replicationWorker.Run(ctx)

	obslog.L().Infow("profileserver starting", "server_id", cfg.ServerID, "identity_id", idcrypto.DeriveIdentityID(pub).String())
	fmt.Fprintf(stdout, "READY server_id=%s identity_id=%s primary_port=%d\n", cfg.ServerID, idcrypto.DeriveIdentityID(pub).String(), cfg.PrimaryPort)

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	return 0
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configName := fs.String("config", "profileserver", "config file basename")
	home := fs.String("home", "", "server home directory (default ~/.profileserver)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configName, *home)
	if err != nil {
		fmt.Fprintf(stderr, "status: load config: %v\n", err)
		return 1
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir = defaultHomeDir()
	}

	pub, _, err := idcrypto.LoadKeypair(filepath.Join(cfg.HomeDir, "keys"))
	if err != nil {
		fmt.Fprintf(stdout, "status: no server identity found under %s\n", cfg.HomeDir)
		return 1
	}

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		fmt.Fprintf(stdout, "status: store unavailable: %v\n", err)
		return 1
	}
	defer st.Close()

	ctx := context.Background()
	count, err := st.CountHostedIdentities(ctx)
	if err != nil {
		fmt.Fprintf(stdout, "status: count hosted identities: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Local server summary:")
	fmt.Fprintf(stdout, "  server_id: %s\n", cfg.ServerID)
	fmt.Fprintf(stdout, "  identity_id: %s\n", idcrypto.DeriveIdentityID(pub).String())
	fmt.Fprintf(stdout, "  hosted identities: %d / %d\n", count, cfg.MaxHostedIdentities)
	fmt.Fprintf(stdout, "  primary_port: %d  server_neighbor_port: %d\n", cfg.PrimaryPort, cfg.ServerNeighborPort)
	fmt.Fprintf(stdout, "  client_non_customer_port: %d  client_customer_port: %d  client_app_service_port: %d\n",
		cfg.ClientNonCustomerPort, cfg.ClientCustomerPort, cfg.ClientAppServicePort)
	return 0
}

// runFollow bootstraps this server as a follower of the neighbor at
// --addr, driving the same neighborhood-initialization handlers a
// listener would but over a connection this process dialed itself.
func runFollow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("follow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "neighbor's server_neighbor_port address (host:port)")
	home := fs.String("home", "", "server home directory (default ~/.profileserver)")
	configName := fs.String("config", "profileserver", "config file basename")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "missing --addr")
		return 1
	}

	cfg, err := loadConfig(*configName, *home)
	if err != nil {
		fmt.Fprintf(stderr, "follow: load config: %v\n", err)
		return 1
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir = defaultHomeDir()
	}
	if cfg.BlobDir == "" || !filepath.IsAbs(cfg.BlobDir) {
		cfg.BlobDir = filepath.Join(cfg.HomeDir, cfg.BlobDir)
	}

	pub, priv, err := serverKeypair(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "follow: server keypair: %v\n", err)
		return 1
	}

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		fmt.Fprintf(stderr, "follow: open store: %v\n", err)
		return 1
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := st.CreateSchema(ctx); err != nil {
		fmt.Fprintf(stderr, "follow: create schema: %v\n", err)
		return 1
	}

	blobs, err := blobstore.New(cfg.BlobDir)
	if err != nil {
		fmt.Fprintf(stderr, "follow: open blob store: %v\n", err)
		return 1
	}

	handlers := replication.New(st, blobs, cfg)
	fmt.Fprintf(stdout, "bootstrapping from %s...\n", *addr)
	if err := handlers.Bootstrap(ctx, *addr, pub, priv); err != nil {
		fmt.Fprintf(stderr, "follow: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "neighborhood initialization complete")
	return 0
}

// buildDispatchTable registers every request kind this server
// understands against the role set and conversation status it
// requires, and wires each to the handler that implements it.
func buildDispatchTable(idh *identity.Handlers, rel *relay.Engine, sh *search.Handlers, rep *replication.Handlers) *dispatch.Table {
	t := dispatch.NewTable()

	allRoles := []session.Role{
		session.RolePrimary,
		session.RoleServerNeighbor,
		session.RoleClientNonCustomer,
		session.RoleClientCustomer,
		session.RoleClientAppService,
	}
	clientRoles := []session.Role{session.RoleClientNonCustomer, session.RoleClientCustomer}

	// Handshake: legal on every role, since a fresh connection hasn't
	// yet declared what it wants to do.
	t.RegisterConversation(wire.KindStartConversation, dispatch.Entry{
		Roles: allRoles, RequiredStatus: session.StatusNone, Handler: idh.StartConversation,
	})
	t.RegisterConversation(wire.KindVerifyIdentity, dispatch.Entry{
		Roles: []session.Role{session.RoleServerNeighbor, session.RoleClientNonCustomer, session.RoleClientCustomer, session.RoleClientAppService},
		RequiredStatus: session.StatusStarted, Handler: idh.VerifyIdentity,
	})
	t.RegisterConversation(wire.KindCheckIn, dispatch.Entry{
		Roles: []session.Role{session.RoleClientCustomer}, RequiredStatus: session.StatusStarted, Handler: idh.CheckIn,
	})
	t.RegisterSingle(wire.KindListRoles, dispatch.Entry{
		Roles: allRoles, RequiredStatus: session.StatusNone, Handler: idh.ListRoles,
	})

	// Hosting management: requires a customer's own signed session,
	// escalating from Started (to register) to Authenticated (to
	// mutate a profile already bound by CheckIn).
	t.RegisterConversation(wire.KindRegisterHosting, dispatch.Entry{
		Roles: []session.Role{session.RoleClientNonCustomer}, RequiredStatus: session.StatusStarted, Handler: idh.RegisterHosting,
	})
	t.RegisterConversation(wire.KindUpdateProfile, dispatch.Entry{
		Roles: []session.Role{session.RoleClientCustomer}, RequiredStatus: session.StatusAuthenticated, Handler: idh.UpdateProfile,
	})
	t.RegisterConversation(wire.KindCancelHostingAgreement, dispatch.Entry{
		Roles: []session.Role{session.RoleClientCustomer}, RequiredStatus: session.StatusAuthenticated, Handler: idh.CancelHostingAgreement,
	})

	// Application-service registration and related-identity management
	// belong to the authenticated hosted identity itself.
	t.RegisterConversation(wire.KindApplicationServiceAdd, dispatch.Entry{
		Roles: []session.Role{session.RoleClientCustomer}, RequiredStatus: session.StatusAuthenticated, Handler: idh.ApplicationServiceAdd,
	})
	t.RegisterConversation(wire.KindApplicationServiceRemove, dispatch.Entry{
		Roles: []session.Role{session.RoleClientCustomer}, RequiredStatus: session.StatusAuthenticated, Handler: idh.ApplicationServiceRemove,
	})
	t.RegisterConversation(wire.KindAddRelatedIdentity, dispatch.Entry{
		Roles: []session.Role{session.RoleClientCustomer}, RequiredStatus: session.StatusAuthenticated, Handler: idh.AddRelatedIdentity,
	})
	t.RegisterConversation(wire.KindRemoveRelatedIdentity, dispatch.Entry{
		Roles: []session.Role{session.RoleClientCustomer}, RequiredStatus: session.StatusAuthenticated, Handler: idh.RemoveRelatedIdentity,
	})
	t.RegisterConversation(wire.KindGetIdentityRelationshipsInformation, dispatch.Entry{
		Roles: []session.Role{session.RoleClientCustomer}, RequiredStatus: session.StatusAuthenticated, Handler: idh.GetIdentityRelationshipsInformation,
	})

	// Lookup is available to any verified client, customer or not.
	t.RegisterConversation(wire.KindGetIdentityInformation, dispatch.Entry{
		Roles: clientRoles, RequiredStatus: session.StatusVerified, Handler: idh.GetIdentityInformation,
	})

	// Application-service calling: any verified client may place a
	// call; the notification kind is server-initiated only, registered
	// so a client presenting it gets a clean protocol-violation reply
	// instead of an unsupported-kind one.
	t.RegisterConversation(wire.KindCallIdentityApplicationService, dispatch.Entry{
		Roles: clientRoles, RequiredStatus: session.StatusVerified, Handler: rel.CallIdentityApplicationService,
	})
	t.RegisterConversation(wire.KindIncomingCallNotification, dispatch.Entry{
		Roles: clientRoles, RequiredStatus: session.StatusVerified, Handler: rel.IncomingCallNotification,
	})

	// Application-service payload relay runs over its own dedicated
	// listener and needs no prior handshake beyond the pairing token
	// the call/accept exchange minted.
	t.RegisterConversation(wire.KindApplicationServiceSendMessage, dispatch.Entry{
		Roles: []session.Role{session.RoleClientAppService}, RequiredStatus: session.StatusNone, Handler: rel.ApplicationServiceSendMessage,
	})
	t.RegisterConversation(wire.KindApplicationServiceReceiveMessageNotification, dispatch.Entry{
		Roles: []session.Role{session.RoleClientAppService}, RequiredStatus: session.StatusNone, Handler: rel.ApplicationServiceReceiveMessageNotification,
	})

	// Search is single-request/response, available to any verified
	// client.
	t.RegisterSingle(wire.KindProfileSearch, dispatch.Entry{
		Roles: clientRoles, RequiredStatus: session.StatusVerified, Handler: sh.ProfileSearch,
	})
	t.RegisterSingle(wire.KindProfileSearchPart, dispatch.Entry{
		Roles: clientRoles, RequiredStatus: session.StatusVerified, Handler: sh.ProfileSearchPart,
	})

	// Neighborhood replication is exclusively a ServerNeighbor
	// concern.
	t.RegisterConversation(wire.KindStartNeighborhoodInitialization, dispatch.Entry{
		Roles: []session.Role{session.RoleServerNeighbor}, RequiredStatus: session.StatusVerified, Handler: rep.StartNeighborhoodInitialization,
	})
	t.RegisterConversation(wire.KindNeighborhoodSharedProfileUpdate, dispatch.Entry{
		Roles: []session.Role{session.RoleServerNeighbor}, RequiredStatus: session.StatusVerified, Handler: rep.NeighborhoodSharedProfileUpdate,
	})
	t.RegisterConversation(wire.KindFinishNeighborhoodInitialization, dispatch.Entry{
		Roles: []session.Role{session.RoleServerNeighbor}, RequiredStatus: session.StatusVerified, Handler: rep.FinishNeighborhoodInitialization,
	})

	return t
}
