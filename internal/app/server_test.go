package app

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/mobile-capture/internal/capture"
	"github.com/zombor/mobile-capture/internal/engine"
)

func doRequest(method, url string, body io.Reader, contentType string) *http.Response {
	req, err := http.NewRequest(method, url, body)
	Expect(err).NotTo(HaveOccurred())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func postJSON(url string, v interface{}) *http.Response {
	data, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	return doRequest(http.MethodPost, url, bytes.NewReader(data), "application/json")
}

func uploadPage(url string, data []byte, filename string) *http.Response {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return doRequest(http.MethodPost, url, &buf, writer.FormDataContentType())
}

func decodeBody(resp *http.Response, v interface{}) {
	defer resp.Body.Close()
	Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		env         *testEnv
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
		baseURL     string
	)

	BeforeEach(func() {
		env = newTestEnv()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(env.service, auth, http.NewServeMux())
		ghttpServer = serve(server.Handler())
		baseURL = ghttpServer.URL()
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	createSession := func(profile string) *capture.Session {
		resp := postJSON(baseURL+"/api/sessions", map[string]string{"profile": profile})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var session capture.Session
		decodeBody(resp, &session)
		return &session
	}

	Describe("handleIndex", func() {
		It("should return HTML containing Mobile Capture", func() {
			resp := doRequest(http.MethodGet, baseURL+"/", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Mobile Capture"))
		})

		It("should return status Method Not Allowed for POST", func() {
			resp := doRequest(http.MethodPost, baseURL+"/", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})

		It("should return Not Found for unknown paths", func() {
			resp := doRequest(http.MethodGet, baseURL+"/nope", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := doRequest(http.MethodOptions, baseURL+"/api/sessions", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := doRequest(http.MethodGet, baseURL+"/api/profiles", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Mobile Capture"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, baseURL+"/api/profiles", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("handleListProfiles", func() {
		It("should return the configured profiles", func() {
			resp := doRequest(http.MethodGet, baseURL+"/api/profiles", nil, "")
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var profiles []capture.Profile
			decodeBody(resp, &profiles)
			Expect(profiles).To(HaveLen(3))
			Expect(profiles[2].Name).To(Equal("One Business Card"))
		})
	})

	Describe("handleEngine", func() {
		It("should report the engine version once built", func() {
			_, err := env.recognizer.Engine()
			Expect(err).NotTo(HaveOccurred())

			var info EngineInfo
			decodeBody(doRequest(http.MethodGet, baseURL+"/api/engine", nil, ""), &info)
			Expect(info.Version).To(Equal("mock 1.0"))
		})

		It("should report Unknown before the engine is built", func() {
			var info EngineInfo
			decodeBody(doRequest(http.MethodGet, baseURL+"/api/engine", nil, ""), &info)
			Expect(info.Version).To(Equal("Unknown"))
		})
	})

	Describe("sessions", func() {
		It("should reject unknown profiles", func() {
			resp := postJSON(baseURL+"/api/sessions", map[string]string{"profile": "Passport"})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return Not Found for missing sessions", func() {
			resp := doRequest(http.MethodGet, baseURL+"/api/sessions/missing", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should list sessions as an empty array", func() {
			resp := doRequest(http.MethodGet, baseURL+"/api/sessions", nil, "")
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("should add, fetch and remove pages", func() {
			session := createSession("A4 Document")

			resp := uploadPage(baseURL+"/api/sessions/"+session.ID+"/pages", pngPage(40, 60), "page.png")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var updated capture.Session
			decodeBody(resp, &updated)
			Expect(updated.PageIDs).To(HaveLen(1))

			resp = doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0", nil, "")
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			img, err := png.Decode(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(40))

			var view SessionView
			decodeBody(doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID, nil, ""), &view)
			Expect(view.Complete).To(BeTrue())

			resp = doRequest(http.MethodDelete, baseURL+"/api/sessions/"+session.ID+"/pages/0", nil, "")
			decodeBody(resp, &updated)
			Expect(updated.PageIDs).To(BeEmpty())

			resp = doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should reject pages with the wrong aspect ratio", func() {
			session := createSession("One Business Card")
			resp := uploadPage(baseURL+"/api/sessions/"+session.ID+"/pages", pngPage(50, 50), "card.png")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject pages beyond the profile limit", func() {
			session := createSession("One Business Card")
			resp := uploadPage(baseURL+"/api/sessions/"+session.ID+"/pages", pngPage(70, 40), "card.png")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp = uploadPage(baseURL+"/api/sessions/"+session.ID+"/pages", pngPage(70, 40), "card.png")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should reject an upload without a file", func() {
			session := createSession("A4 Document")
			resp := doRequest(http.MethodPost, baseURL+"/api/sessions/"+session.ID+"/pages", strings.NewReader(""), "multipart/form-data; boundary=x")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject a bad page index", func() {
			session := createSession("A4 Document")
			resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/abc", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should delete a session", func() {
			session := createSession("A4 Document")
			resp := doRequest(http.MethodDelete, baseURL+"/api/sessions/"+session.ID, nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID, nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/scenarios", func() {
		It("should list every preset with the default first", func() {
			var scenarios []engine.Scenario
			decodeBody(doRequest(http.MethodGet, baseURL+"/api/scenarios", nil, ""), &scenarios)
			Expect(scenarios).To(HaveLen(len(engine.Scenarios())))
			Expect(scenarios[0].Name).To(Equal("BusinessCards"))
			Expect(scenarios).To(ContainElement(HaveField("Name", "ChineseJapaneseDate")))
		})
	})

	Describe("recognition", func() {
		var session *capture.Session

		JustBeforeEach(func() {
			session = createSession("A4 Document")
			resp := uploadPage(baseURL+"/api/sessions/"+session.ID+"/pages", pngPage(40, 60), "page.png")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("should return recognized text", func() {
			var body map[string]string
			decodeBody(doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/text", nil, ""), &body)
			Expect(body["text"]).To(Equal("Invoice 42"))
		})

		It("should recognize text in the requested languages", func() {
			var body map[string]string
			decodeBody(doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/text?languages=eng,deu", nil, ""), &body)
			Expect(body["text"]).To(Equal("Invoice 42"))
			Expect(env.engine.lastLanguages()).To(Equal([]string{"eng", "deu"}))
		})

		It("should reject an invalid language", func() {
			resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/text?languages=eng,en-US", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		Describe("fields", func() {
			var body struct {
				Fields []engine.Field `json:"fields"`
			}

			BeforeEach(func() {
				env.engine.text = "Invoice 42 code X6YZ64\nRef 002A-X345 (01)"
				body.Fields = nil
			})

			DescribeTable("extracting a scenario",
				func(query string, expected []engine.Field, languages []string) {
					resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/fields"+query, nil, "")
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					decodeBody(resp, &body)
					Expect(body.Fields).To(Equal(expected))
					Expect(env.engine.lastLanguages()).To(Equal(languages))
				},
				Entry("numbers", "?scenario=Number",
					[]engine.Field{{Name: "Number", Text: "42"}, {Name: "Number", Text: "64"}, {Name: "Number", Text: "002"}, {Name: "Number", Text: "345"}, {Name: "Number", Text: "01"}},
					[]string{"eng"}),
				Entry("codes", "?scenario=Code",
					[]engine.Field{{Name: "Code", Text: "X6YZ64"}, {Name: "Code", Text: "002A"}, {Name: "Code", Text: "X345"}},
					[]string{"eng"}),
				Entry("area codes in chosen languages", "?scenario=AreaCode&languages=deu",
					[]engine.Field{{Name: "AreaCode", Text: "(01)"}},
					[]string{"deu"}),
				Entry("the default scenario", "",
					[]engine.Field{{Name: "BusinessCards", Text: "Invoice 42 code X6YZ64"}, {Name: "BusinessCards", Text: "Ref 002A-X345 (01)"}},
					[]string{"eng"}),
			)

			It("should return Bad Request for an unknown scenario", func() {
				resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/fields?scenario=Barcode", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should return Not Found for a missing page", func() {
				resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/3/fields?scenario=Number", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the engine fails", func() {
			BeforeEach(func() {
				env.engine.err = errors.New("engine error")
			})

			It("returns the error", func() {
				resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/text", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})

		When("no license is configured", func() {
			BeforeEach(func() {
				env.recognizer.SetLicensePath("")
			})

			It("should return Service Unavailable", func() {
				resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/text", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})

		It("should render the quality overlay at the requested size", func() {
			env.engine.blocks = []engine.Block{{Type: engine.TextBlock, Rect: image.Rect(0, 0, 20, 20), Quality: 80}}

			resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/overlay.png?w=80&h=120&boundary=0,0,40,0,40,60,0,60", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			img, err := png.Decode(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(80))
			Expect(img.Bounds().Dy()).To(Equal(120))
		})

		It("should reject a malformed boundary", func() {
			resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pages/0/overlay.png?boundary=1,2,3", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should render session progress", func() {
			resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/progress.png", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			img, err := png.Decode(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(200))
			Expect(img.Bounds().Dy()).To(Equal(40))
		})

		It("should reject an unknown stability", func() {
			resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/progress.png?stability=wobbly", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("pdf", func() {
		It("should generate and serve the PDF", func() {
			session := createSession("A4 Document")
			for i := 0; i < 2; i++ {
				resp := uploadPage(baseURL+"/api/sessions/"+session.ID+"/pages", pngPage(40, 60), "page.png")
				resp.Body.Close()
			}

			resp := doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pdf", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			resp = doRequest(http.MethodPost, baseURL+"/api/sessions/"+session.ID+"/pdf", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var created map[string]string
			decodeBody(resp, &created)
			Expect(created["path"]).To(BeAnExistingFile())

			resp = doRequest(http.MethodGet, baseURL+"/api/sessions/"+session.ID+"/pdf", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(HavePrefix("%PDF"))
		})

		It("should reject a session without pages", func() {
			session := createSession("A4 Document")
			resp := doRequest(http.MethodPost, baseURL+"/api/sessions/"+session.ID+"/pdf", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})
})
