package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/mpesa-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/mpesa-reconciler/internal/domain/payments"
)

// SaveStudent inserts or updates a student
func (s *Storage) SaveStudent(ctx context.Context, st *Student) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO students (id, admission_no, first_name, last_name, class_name)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		admission_no = excluded.admission_no,
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		class_name = excluded.class_name
	`, st.ID, st.AdmissionNo, st.FirstName, st.LastName, st.ClassName)
	return err
}

// SaveParent links a phone number to a student. The phone is stored in
// international form so lookups match any local spelling.
func (s *Storage) SaveParent(ctx context.Context, p *Parent) error {
	phone := matcher.NormalizePhone(p.Phone, s.countryCode)
	if phone == "" {
		return fmt.Errorf("parent phone %q has no digits", p.Phone)
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO parents (student_id, name, phone) VALUES (?, ?, ?)
	ON CONFLICT(student_id, phone) DO UPDATE SET name = excluded.name
	`, p.StudentID, p.Name, phone)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		p.ID = id
	}
	p.Phone = phone
	return nil
}

// FindStudentsByPhone returns students whose parent uses the phone, then
// students previously paid for from it. Each student appears once.
func (s *Storage) FindStudentsByPhone(ctx context.Context, phone string) ([]payments.StudentMatch, error) {
	normalized := matcher.NormalizePhone(phone, s.countryCode)
	if normalized == "" {
		return nil, nil
	}

	var result []payments.StudentMatch
	seen := make(map[string]bool)

	parentHits, err := s.queryStudents(ctx, `
	SELECT DISTINCT s.id, s.admission_no, s.first_name, s.last_name, s.class_name
	FROM students s
	JOIN parents p ON p.student_id = s.id
	WHERE p.phone = ?
	ORDER BY s.last_name, s.first_name
	`, normalized)
	if err != nil {
		return nil, err
	}
	for _, m := range parentHits {
		m.MatchSource = payments.SourceParentRecord
		seen[m.StudentID] = true
		result = append(result, m)
	}

	variants := matcher.PhoneVariants(phone, s.countryCode)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(variants)), ",")
	args := make([]any, len(variants))
	for i, v := range variants {
		args[i] = v
	}

	historyHits, err := s.queryStudents(ctx, `
	SELECT DISTINCT s.id, s.admission_no, s.first_name, s.last_name, s.class_name
	FROM students s
	JOIN mpesa_transactions m ON m.student_id = s.id
	WHERE m.phone_number IN (`+placeholders+`)
	ORDER BY s.last_name, s.first_name
	`, args...)
	if err != nil {
		return nil, err
	}
	for _, m := range historyHits {
		if seen[m.StudentID] {
			continue
		}
		m.MatchSource = payments.SourceMpesaHistory
		seen[m.StudentID] = true
		result = append(result, m)
	}

	for i := range result {
		count, total, err := s.paymentTotals(ctx, result[i].StudentID)
		if err != nil {
			return nil, err
		}
		result[i].PaymentCount = count
		result[i].TotalPaid = total
	}

	return result, nil
}

func (s *Storage) queryStudents(ctx context.Context, query string, args ...any) ([]payments.StudentMatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var result []payments.StudentMatch
	for rows.Next() {
		var m payments.StudentMatch
		if err := rows.Scan(&m.StudentID, &m.AdmissionNo, &m.FirstName, &m.LastName, &m.ClassName); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Storage) paymentTotals(ctx context.Context, studentID string) (int, decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM mpesa_transactions WHERE student_id = ?`, studentID)
	if err != nil {
		return 0, decimal.Zero, err
	}
	defer rows.Close()

	count := 0
	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return 0, decimal.Zero, err
		}
		count++
		total = total.Add(amount)
	}
	return count, total, rows.Err()
}
