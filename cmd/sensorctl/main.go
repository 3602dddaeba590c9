package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/namsral/flag"
	"github.com/rs/zerolog/log"

	"tidewatch/internal/auth"
	"tidewatch/internal/config"
	"tidewatch/internal/database/store"
	"tidewatch/internal/database/store/repositories"
	"tidewatch/internal/logger"
	"tidewatch/internal/models"
	"tidewatch/internal/services"
)

const usage = `usage: sensorctl <command> [flags]

commands:
  onboard        register a new sensor
  update         change sensor metadata
  list           list sensors
  activate       resume ingestion for a sensor
  deactivate     stop ingestion for a sensor
  delete         remove a sensor and its readings (needs -confirm)
  sweep-params   remove parameters no reading refers to
  hash-password  print a bcrypt hash for ADMIN_PASSWORD_HASH
`

type command func(ctx context.Context, svc *services.SensorService, principal *auth.Principal, args []string) error

var commands = map[string]command{
	"onboard":    onboard,
	"update":     update,
	"list":       list,
	"activate":   setActive(true),
	"deactivate": setActive(false),
	"delete":     remove,
	"sweep-params": func(ctx context.Context, svc *services.SensorService, principal *auth.Principal, _ []string) error {
		removed, err := svc.SweepParameters(ctx, principal)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d unused parameters\n", removed)
		return nil
	},
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	name, args := os.Args[1], os.Args[2:]
	if name == "hash-password" {
		if err := hashPassword(args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.NewLogger(cfg.Logger)

	db, err := store.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	svc := services.NewSensorService(
		repositories.NewSensorRepository(db.GetDB()),
		repositories.NewParameterRepository(db.GetDB()),
		logger.GetLogger("sensorctl"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := cmd(ctx, svc, operator(), args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		db.Close()
		os.Exit(1)
	}
}

// operator identifies whoever runs the tool on the host.
func operator() *auth.Principal {
	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	if name == "" {
		name = "operator"
	}
	return &auth.Principal{Username: name, Source: "cli"}
}

func printSensor(s *models.Sensor) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s.ToDto())
}

// visited reports which flags were given on the command line.
func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func parseCoordinate(name, value string) (*float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", name, err)
	}
	return &v, nil
}

func onboard(ctx context.Context, svc *services.SensorService, principal *auth.Principal, args []string) error {
	fs := flag.NewFlagSet("onboard", flag.ExitOnError)
	name := fs.String("name", "", "sensor name, as sent by the device")
	deviceType := fs.String("type", "", "device type (sonde, tide_gauge, wave_gauge, other)")
	lat := fs.String("lat", "", "latitude in degrees")
	lon := fs.String("lon", "", "longitude in degrees")
	timezone := fs.String("timezone", "UTC", "IANA timezone of the deployment")
	image := fs.String("image", "", "image URL or data URI")
	if err := fs.Parse(args); err != nil {
		return err
	}

	input := services.SensorInput{
		Name:       *name,
		DeviceType: *deviceType,
		Timezone:   *timezone,
		Image:      *image,
	}

	var err error
	if *lat != "" {
		if input.Latitude, err = parseCoordinate("lat", *lat); err != nil {
			return err
		}
	}
	if *lon != "" {
		if input.Longitude, err = parseCoordinate("lon", *lon); err != nil {
			return err
		}
	}

	sensor, err := svc.Onboard(ctx, principal, input)
	if err != nil {
		return err
	}
	return printSensor(sensor)
}

func update(ctx context.Context, svc *services.SensorService, principal *auth.Principal, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	name := fs.String("name", "", "sensor to update")
	deviceType := fs.String("type", "", "device type")
	lat := fs.String("lat", "", "latitude in degrees")
	lon := fs.String("lon", "", "longitude in degrees")
	timezone := fs.String("timezone", "", "IANA timezone")
	image := fs.String("image", "", "image URL or data URI")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set := visited(fs)
	var patch services.SensorPatch
	var err error
	if set["type"] {
		patch.DeviceType = deviceType
	}
	if set["timezone"] {
		patch.Timezone = timezone
	}
	if set["image"] {
		patch.Image = image
	}
	if set["lat"] {
		if patch.Latitude, err = parseCoordinate("lat", *lat); err != nil {
			return err
		}
	}
	if set["lon"] {
		if patch.Longitude, err = parseCoordinate("lon", *lon); err != nil {
			return err
		}
	}

	sensor, err := svc.Update(ctx, principal, *name, patch)
	if err != nil {
		return err
	}
	return printSensor(sensor)
}

func list(ctx context.Context, svc *services.SensorService, _ *auth.Principal, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	activeOnly := fs.Bool("active", false, "only list active sensors")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sensors, err := svc.List(ctx, *activeOnly)
	if err != nil {
		return err
	}

	for _, s := range sensors {
		state := "active"
		if !s.Active {
			state = "inactive"
		}
		fmt.Printf("%-24s %-10s %-8s %.5f,%.5f\n", s.Name, s.DeviceType, state, s.Latitude, s.Longitude)
	}
	return nil
}

func setActive(active bool) command {
	return func(ctx context.Context, svc *services.SensorService, principal *auth.Principal, args []string) error {
		fs := flag.NewFlagSet("activate", flag.ExitOnError)
		name := fs.String("name", "", "sensor name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := svc.SetActive(ctx, principal, *name, active); err != nil {
			return err
		}
		fmt.Printf("%s active=%t\n", *name, active)
		return nil
	}
}

func remove(ctx context.Context, svc *services.SensorService, principal *auth.Principal, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	name := fs.String("name", "", "sensor name")
	confirm := fs.Bool("confirm", false, "really delete the sensor and all of its readings")
	if err := fs.Parse(args); err != nil {
		return err
	}

	removed, err := svc.Delete(ctx, principal, *name, *confirm)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %s and %d readings\n", *name, removed)
	return nil
}

func hashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	password := fs.String("password", "", "password to hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *password == "" {
		return fmt.Errorf("-password is required")
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
