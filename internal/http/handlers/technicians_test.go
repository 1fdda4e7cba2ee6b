package handlers

import (
	"bytes"
	"mime/multipart"
	"testing"
)

func TestParseTechniciansCSV(t *testing.T) {
	content := "\ufeffUser_ID,Name,Specialties,Service_Areas,Available,Lat,Lon\n" +
		"tech-1,김미영,전기/조명; 배관,강남구;서초구,true,37.5,127.0\n" +
		"tech-2,이수진,도배,,false,,\n" +
		"tech-3,박혜원,,,yes,,\n" +
		"tech-4,정하나,,,true,abc,127\n" +
		"tech-2,중복,,,true,,\n" +
		",이름없음,,,true,,\n"
	fh := makeMultipartFile(t, "technicians", "technicians.csv", content)
	techs, errs := parseTechniciansCSV(fh)
	if len(techs) != 2 {
		t.Fatalf("expected 2 technicians, got %d (%v)", len(techs), errs)
	}
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %v", errs)
	}
	first := techs[0]
	if first.UserID != "tech-1" || first.DisplayName != "김미영" || !first.IsAvailable {
		t.Fatalf("unexpected first row %+v", first)
	}
	if len(first.Specialties) != 2 || first.Specialties[1] != "배관" {
		t.Fatalf("unexpected specialties %v", first.Specialties)
	}
	if len(first.ServiceAreas) != 2 {
		t.Fatalf("unexpected service areas %v", first.ServiceAreas)
	}
	if first.Lat == nil || *first.Lat != 37.5 {
		t.Fatalf("expected lat 37.5, got %v", first.Lat)
	}
	if techs[1].UserID != "tech-2" || techs[1].IsAvailable {
		t.Fatalf("unexpected second row %+v", techs[1])
	}
}

func TestParseTechniciansCSV_Defaults(t *testing.T) {
	content := "user_id,display_name,specialties\nt1,최은정,전기\n"
	fh := makeMultipartFile(t, "technicians", "technicians.csv", content)
	techs, errs := parseTechniciansCSV(fh)
	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(techs) != 1 {
		t.Fatalf("expected 1 technician, got %d", len(techs))
	}
	if !techs[0].IsAvailable {
		t.Fatalf("expected available by default")
	}
	if techs[0].Lat != nil || techs[0].Lon != nil {
		t.Fatalf("expected no coordinates")
	}
	if len(techs[0].Specialties) != 1 || techs[0].Specialties[0] != "전기" {
		t.Fatalf("unexpected specialties %v", techs[0].Specialties)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" 강남구 ;서초구,, 송파구 ")
	want := []string{"강남구", "서초구", "송파구"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func makeMultipartFile(t *testing.T, fieldName, filename, content string) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	reader := multipart.NewReader(&buf, writer.Boundary())
	form, err := reader.ReadForm(int64(buf.Len()))
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	files := form.File[fieldName]
	if len(files) == 0 {
		t.Fatalf("no file headers found")
	}
	return files[0]
}
