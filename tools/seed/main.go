// seed loads demo threshold rules and contacts into the record store
// and prints a signed operator token for exercising the API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	alarmrepo "waterwatch/internal/alarms/infrastructure/postgres"
	"waterwatch/internal/auth"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres dsn")
	jwtSecret := flag.String("jwt-secret", os.Getenv("AUTH_JWT_SECRET"), "jwt secret for the demo token")
	flag.Parse()

	logger := log.New(os.Stdout, "seed ", log.LstdFlags)
	if *dsn == "" {
		logger.Fatal("-dsn or DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	thresholds := alarmrepo.NewThresholdRepository(db)
	contacts := alarmrepo.NewContactRepository(db)

	rules := []alarms.ThresholdRule{
		{
			Ref:        "pc-line-day",
			TagID:      "PC_Line_Total",
			LimitValue: 250000,
			Operator:   alarms.OperatorGreaterOrEqual,
			Target:     alarms.TargetDayTotal,
			Severity:   alarms.SeverityWarning,
			Unit:       "L",
			Enabled:    true,
		},
		{
			Ref:        "pc-line-shift",
			TagID:      "PC_Line_Total",
			LimitValue: 100000,
			Operator:   alarms.OperatorGreaterOrEqual,
			Target:     alarms.TargetShiftTotal,
			Severity:   alarms.SeverityCritical,
			Unit:       "L",
			Enabled:    true,
		},
		{
			Ref:        "ck-line-day",
			TagID:      "CK_Line_Total",
			LimitValue: 180000,
			Operator:   alarms.OperatorGreaterOrEqual,
			Target:     alarms.TargetDayTotal,
			Severity:   alarms.SeverityWarning,
			Unit:       "L",
			Enabled:    true,
		},
	}
	for _, rule := range rules {
		if err := thresholds.Create(ctx, &rule); err != nil {
			logger.Printf("threshold %s skipped err=%v", rule.Ref, err)
			continue
		}
		logger.Printf("threshold %s created", rule.Ref)
	}

	roster := []alarms.Contact{
		{
			Name:        "Day Supervisor",
			MSISDN:      "+27820000001",
			Group:       "PC and CK",
			Role:        "supervisor",
			DaysOfWeek:  "MON,TUE,WED,THU,FRI",
			WindowStart: "07:00",
			WindowEnd:   "19:00",
			Enabled:     true,
		},
		{
			Name:        "Night Operator",
			MSISDN:      "+27820000002",
			Group:       "operations",
			Role:        "operator",
			DaysOfWeek:  "ALL",
			WindowStart: "19:00",
			WindowEnd:   "07:00",
			Enabled:     true,
		},
	}
	for _, contact := range roster {
		if err := contacts.Upsert(ctx, &contact); err != nil {
			logger.Printf("contact %s skipped err=%v", contact.MSISDN, err)
			continue
		}
		logger.Printf("contact %s created", contact.MSISDN)
	}

	if *jwtSecret != "" {
		token, err := auth.IssueToken([]byte(*jwtSecret), "demo-operator", auth.RoleOperator, 24*time.Hour)
		if err != nil {
			logger.Fatalf("token error: %v", err)
		}
		fmt.Println(token)
	}
}
