package store

import (
	"context"
	"fmt"

	"ballotdesk/internal/domain"
)

// AdminExists reports whether idNumber is already an administrator.
func (s *Store) AdminExists(ctx context.Context, idNumber string) (bool, error) {
	return s.idExists(ctx, "Admins", idNumber)
}

// InsertAdmin enrolls an administrator. A duplicate ID returns sentinel.ErrConflict.
func (s *Store) InsertAdmin(ctx context.Context, r domain.Registration) (err error) {
	ctx, span := s.span(ctx, "insert_admin")
	defer func() { endSpan(span, err) }()

	_, err = s.exec(ctx, `
		INSERT INTO Admins (fingerprint, name, surname, id_number)
		VALUES (?, ?, ?, ?)
	`, r.Fingerprint, r.Name, r.Surname, r.IDNumber)
	return classify(err, "insert admin")
}

// ListAdminTemplates returns every administrator with their enrolled template.
// Rows without a template are included with an empty Template.
func (s *Store) ListAdminTemplates(ctx context.Context) (admins []domain.AdminTemplate, err error) {
	ctx, span := s.span(ctx, "list_admin_templates")
	defer func() { endSpan(span, err) }()

	rows, err := s.query(ctx, `SELECT id_number, name, surname, fingerprint FROM Admins`)
	if err != nil {
		return nil, classify(err, "list admin templates")
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.AdminTemplate
		if err = rows.Scan(&a.IDNumber, &a.Name, &a.Surname, &a.Template); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		admins = append(admins, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admins: %w", err)
	}
	return admins, nil
}
