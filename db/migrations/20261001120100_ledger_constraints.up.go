package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {

		if db.Dialect().Name().String() != "pg" {
			fmt.Printf("\033[1;31m%s\033[0m", "You are not using PostgreSQL. DB level ledger checks can not be enabled!\n")
			return nil
		}
		sql := `
			alter table ledger_entries
				ADD CONSTRAINT check_positive_amount CHECK (amount > 0);
			alter table ledger_entries
				ADD CONSTRAINT check_entry_type CHECK (entry_type IN ('DEBIT', 'CREDIT'));

			-- entries and audit records are never rewritten
			CREATE OR REPLACE FUNCTION reject_mutation()
				RETURNS TRIGGER AS $$
			BEGIN
				RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
			END;
			$$ LANGUAGE plpgsql;

			CREATE TRIGGER ledger_entries_append_only
				BEFORE UPDATE OR DELETE ON ledger_entries
				FOR EACH ROW EXECUTE PROCEDURE reject_mutation();

			CREATE TRIGGER audit_logs_append_only
				BEFORE UPDATE OR DELETE ON audit_logs
				FOR EACH ROW EXECUTE PROCEDURE reject_mutation();

			-- every pair must be complete and balanced when the transaction commits
			CREATE OR REPLACE FUNCTION check_entry_pair()
				RETURNS TRIGGER AS $$
			DECLARE
				cnt INTEGER;
				total NUMERIC;
			BEGIN
				SELECT INTO cnt, total
					COUNT(*), SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END)
				FROM ledger_entries
				WHERE pair_id = NEW.pair_id;

				IF cnt <> 2 OR total <> 0 THEN
					RAISE EXCEPTION 'unbalanced ledger pair %', NEW.pair_id;
				END IF;
				RETURN NULL;
			END;
			$$ LANGUAGE plpgsql;

			CREATE CONSTRAINT TRIGGER ledger_entries_pair_balanced
				AFTER INSERT ON ledger_entries
				DEFERRABLE INITIALLY DEFERRED
				FOR EACH ROW EXECUTE PROCEDURE check_entry_pair();
		`
		if _, err := db.Exec(sql); err != nil {
			return err
		}
		return nil
	}, nil)
}
