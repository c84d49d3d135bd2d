//go:build windows
// +build windows

package iom

import (
	"context"
	"fmt"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

// ADODB RecordSet CursorTypeEnum / LockTypeEnum / CommandTypeEnum
const (
	adCursorForward  = 0
	adLockReadOnly   = 1
	adCmdTableDirect = 512
	adSchemaColumns  = 4
)

// Имя приложения, под которым создается workspace на сервере.
const sasAppName = "SASApp"

// COMFactory реализует Factory через COM API SAS Integration Technologies.
// Использует go-ole так же, как MSMQ-брокер: один CoInitializeEx на фабрику,
// dispatch-объекты освобождаются явно.
type COMFactory struct {
	factory     *ole.IDispatch
	keeper      *ole.IDispatch
	initialized bool
}

// NewFactory создает COM-фабрику объектов движка.
func NewFactory() (Factory, error) {
	// Инициализируем COM
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		return nil, fmt.Errorf("failed to initialize COM: %w", err)
	}

	unknown, err := oleutil.CreateObject("SASObjectManager.ObjectFactoryMulti2")
	if err != nil {
		ole.CoUninitialize()
		return nil, fmt.Errorf("failed to create SASObjectManager.ObjectFactoryMulti2 (is SAS Integration Technologies installed?): %w", err)
	}
	factory, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		ole.CoUninitialize()
		return nil, fmt.Errorf("failed to query IDispatch interface: %w", err)
	}

	keeperUnknown, err := oleutil.CreateObject("SASObjectManager.ObjectKeeper")
	if err != nil {
		factory.Release()
		ole.CoUninitialize()
		return nil, fmt.Errorf("failed to create SASObjectManager.ObjectKeeper: %w", err)
	}
	keeper, err := keeperUnknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		factory.Release()
		ole.CoUninitialize()
		return nil, fmt.Errorf("failed to query IDispatch interface: %w", err)
	}

	return &COMFactory{factory: factory, keeper: keeper, initialized: true}, nil
}

// CreateWorkspace создает workspace на сервере и регистрирует его в ObjectKeeper.
func (f *COMFactory) CreateWorkspace(ctx context.Context, def ServerDef) (Workspace, error) {
	if !f.initialized {
		return nil, fmt.Errorf("COM factory is not initialized")
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server definition: %w", err)
	}

	serverUnknown, err := oleutil.CreateObject("SASObjectManager.ServerDef")
	if err != nil {
		return nil, fmt.Errorf("failed to create SASObjectManager.ServerDef: %w", err)
	}
	defer serverUnknown.Release()

	server, err := serverUnknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDispatch interface: %w", err)
	}
	defer server.Release()

	var user, password any
	if def.Protocol == ProtocolCOM {
		// Локальное подключение без учетных данных
		if _, err := oleutil.PutProperty(server, "MachineDNSName", "127.0.0.1"); err != nil {
			return nil, fmt.Errorf("failed to set MachineDNSName: %w", err)
		}
		if _, err := oleutil.PutProperty(server, "Port", 0); err != nil {
			return nil, fmt.Errorf("failed to set Port: %w", err)
		}
		if _, err := oleutil.PutProperty(server, "Protocol", int(ProtocolCOM)); err != nil {
			return nil, fmt.Errorf("failed to set Protocol: %w", err)
		}
	} else {
		if _, err := oleutil.PutProperty(server, "MachineDNSName", def.Host); err != nil {
			return nil, fmt.Errorf("failed to set MachineDNSName: %w", err)
		}
		if _, err := oleutil.PutProperty(server, "Port", def.Port); err != nil {
			return nil, fmt.Errorf("failed to set Port: %w", err)
		}
		if _, err := oleutil.PutProperty(server, "Protocol", int(ProtocolIOM)); err != nil {
			return nil, fmt.Errorf("failed to set Protocol: %w", err)
		}
		if _, err := oleutil.PutProperty(server, "ClassIdentifier", def.ClassID); err != nil {
			return nil, fmt.Errorf("failed to set ClassIdentifier: %w", err)
		}
		user = def.User
		password = def.Password
	}

	result, err := oleutil.CallMethod(f.factory, "CreateObjectByServer", sasAppName, true, server, user, password)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace on server: %w", err)
	}
	wsDispatch := result.ToIDispatch()
	if wsDispatch == nil {
		return nil, fmt.Errorf("CreateObjectByServer returned no workspace object")
	}

	// Регистрируем workspace, чтобы поставщик данных мог найти его по iom-id
	if _, err := oleutil.CallMethod(f.keeper, "AddObject", 1, "WorkspaceObject", wsDispatch); err != nil {
		wsDispatch.Release()
		return nil, fmt.Errorf("failed to register workspace in object keeper: %w", err)
	}

	idVariant, err := oleutil.GetProperty(wsDispatch, "UniqueIdentifier")
	if err != nil {
		wsDispatch.Release()
		return nil, fmt.Errorf("failed to get workspace identifier: %w", err)
	}

	return &comWorkspace{
		dispatch: wsDispatch,
		keeper:   f.keeper,
		id:       idVariant.ToString(),
	}, nil
}

// OpenConnection открывает ADODB-соединение поверх зарегистрированного workspace.
func (f *COMFactory) OpenConnection(ctx context.Context, provider, workspaceID string) (Connection, error) {
	unknown, err := oleutil.CreateObject("ADODB.Connection")
	if err != nil {
		return nil, fmt.Errorf("failed to create ADODB.Connection: %w", err)
	}
	conn, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDispatch interface: %w", err)
	}

	dsn := fmt.Sprintf("Provider=%s; Data Source=iom-id://%s", provider, workspaceID)
	if _, err := oleutil.CallMethod(conn, "Open", dsn); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to open ADODB connection: %w", err)
	}

	return &comConnection{dispatch: conn}, nil
}

// Close освобождает фабрику и деинициализирует COM.
func (f *COMFactory) Close() error {
	if !f.initialized {
		return nil
	}
	if f.keeper != nil {
		f.keeper.Release()
		f.keeper = nil
	}
	if f.factory != nil {
		f.factory.Release()
		f.factory = nil
	}
	ole.CoUninitialize()
	f.initialized = false
	return nil
}

// comWorkspace оборачивает dispatch workspace-объекта.
type comWorkspace struct {
	dispatch *ole.IDispatch
	keeper   *ole.IDispatch
	id       string
	closed   bool
}

func (w *comWorkspace) UniqueIdentifier() string { return w.id }

func (w *comWorkspace) LanguageService() LanguageService {
	return &comLanguageService{ws: w}
}

func (w *comWorkspace) FileService() FileService {
	return &comFileService{ws: w}
}

// Close снимает workspace с регистрации в keeper и закрывает его.
// Порядок обязателен: иначе движок удерживает дескриптор.
func (w *comWorkspace) Close() error {
	if w.closed {
		return nil
	}
	if _, err := oleutil.CallMethod(w.keeper, "RemoveObject", w.dispatch); err != nil {
		return fmt.Errorf("failed to remove workspace from object keeper: %w", err)
	}
	if _, err := oleutil.CallMethod(w.dispatch, "Close"); err != nil {
		return fmt.Errorf("failed to close workspace: %w", err)
	}
	w.dispatch.Release()
	w.dispatch = nil
	w.closed = true
	return nil
}

// languageService возвращает dispatch LanguageService текущего workspace.
func (w *comWorkspace) languageService() (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(w.dispatch, "LanguageService")
	if err != nil {
		return nil, fmt.Errorf("failed to get LanguageService: %w", err)
	}
	return v.ToIDispatch(), nil
}

// fileService возвращает dispatch FileService текущего workspace.
func (w *comWorkspace) fileService() (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(w.dispatch, "FileService")
	if err != nil {
		return nil, fmt.Errorf("failed to get FileService: %w", err)
	}
	return v.ToIDispatch(), nil
}

type comLanguageService struct {
	ws *comWorkspace
}

func (s *comLanguageService) Submit(code string) error {
	ls, err := s.ws.languageService()
	if err != nil {
		return err
	}
	defer ls.Release()

	if _, err := oleutil.CallMethod(ls, "Submit", code); err != nil {
		return fmt.Errorf("failed to submit program: %w", err)
	}
	return nil
}

func (s *comLanguageService) FlushLog(n int) (string, error) {
	return s.flush("FlushLog", n)
}

func (s *comLanguageService) FlushList(n int) (string, error) {
	return s.flush("FlushList", n)
}

func (s *comLanguageService) flush(method string, n int) (string, error) {
	ls, err := s.ws.languageService()
	if err != nil {
		return "", err
	}
	defer ls.Release()

	result, err := oleutil.CallMethod(ls, method, n)
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", method, err)
	}
	return result.ToString(), nil
}

func (s *comLanguageService) Reset() error {
	ls, err := s.ws.languageService()
	if err != nil {
		return err
	}
	defer ls.Release()

	if _, err := oleutil.CallMethod(ls, "Reset"); err != nil {
		return fmt.Errorf("failed to reset language service: %w", err)
	}
	return nil
}

type comFileService struct {
	ws *comWorkspace
}

func (s *comFileService) AssignFileref(name, device, path, options string) (Fileref, error) {
	fs, err := s.ws.fileService()
	if err != nil {
		return nil, err
	}
	defer fs.Release()

	result, err := oleutil.CallMethod(fs, "AssignFileref", name, device, path, options, "")
	if err != nil {
		return nil, fmt.Errorf("failed to assign fileref %s to %s: %w", name, path, err)
	}
	frDispatch := result.ToIDispatch()
	if frDispatch == nil {
		return nil, fmt.Errorf("AssignFileref returned no fileref object")
	}

	nameVariant, err := oleutil.GetProperty(frDispatch, "FilerefName")
	if err != nil {
		frDispatch.Release()
		return nil, fmt.Errorf("failed to get fileref name: %w", err)
	}

	return &comFileref{dispatch: frDispatch, name: nameVariant.ToString()}, nil
}

func (s *comFileService) DeassignFileref(name string) error {
	fs, err := s.ws.fileService()
	if err != nil {
		return err
	}
	defer fs.Release()

	if _, err := oleutil.CallMethod(fs, "DeassignFileref", name); err != nil {
		return fmt.Errorf("failed to deassign fileref %s: %w", name, err)
	}
	return nil
}

type comFileref struct {
	dispatch *ole.IDispatch
	name     string
}

func (f *comFileref) Name() string { return f.name }

func (f *comFileref) OpenBinaryStream(mode StreamMode) (BinaryStream, error) {
	result, err := oleutil.CallMethod(f.dispatch, "OpenBinaryStream", int(mode))
	if err != nil {
		return nil, fmt.Errorf("failed to open binary stream: %w", err)
	}
	stream := result.ToIDispatch()
	if stream == nil {
		return nil, fmt.Errorf("OpenBinaryStream returned no stream object")
	}
	return &comBinaryStream{dispatch: stream}, nil
}

type comBinaryStream struct {
	dispatch *ole.IDispatch
	closed   bool
}

func (s *comBinaryStream) Read(n int) ([]byte, error) {
	if s.closed {
		return nil, ErrStreamClosed
	}
	result, err := oleutil.CallMethod(s.dispatch, "Read", n)
	if err != nil {
		return nil, fmt.Errorf("failed to read from binary stream: %w", err)
	}
	return variantToBytes(result), nil
}

func (s *comBinaryStream) Write(p []byte) error {
	if s.closed {
		return ErrStreamClosed
	}
	if _, err := oleutil.CallMethod(s.dispatch, "Write", p); err != nil {
		return fmt.Errorf("failed to write to binary stream: %w", err)
	}
	return nil
}

func (s *comBinaryStream) Close() error {
	if s.closed {
		return nil
	}
	if _, err := oleutil.CallMethod(s.dispatch, "Close"); err != nil {
		return fmt.Errorf("failed to close binary stream: %w", err)
	}
	s.dispatch.Release()
	s.dispatch = nil
	s.closed = true
	return nil
}

type comConnection struct {
	dispatch *ole.IDispatch
	closed   bool
}

func (c *comConnection) Execute(statement string) error {
	if c.closed {
		return fmt.Errorf("connection is closed")
	}
	if _, err := oleutil.CallMethod(c.dispatch, "Execute", statement); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// OpenSchema запрашивает метаданные колонок через adSchemaColumns.
// Критерий: [TABLE_CATALOG=nil, TABLE_SCHEMA=nil, TABLE_NAME=tablePath].
func (c *comConnection) OpenSchema(tablePath string) (SchemaCursor, error) {
	if c.closed {
		return nil, fmt.Errorf("connection is closed")
	}
	criteria := []any{nil, nil, tablePath}
	result, err := oleutil.CallMethod(c.dispatch, "OpenSchema", adSchemaColumns, criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to open column schema for %s: %w", tablePath, err)
	}
	rs := result.ToIDispatch()
	if rs == nil {
		return nil, fmt.Errorf("OpenSchema returned no recordset")
	}
	return &comSchemaCursor{recordset: rs, first: true}, nil
}

// OpenTable открывает RecordSet в режиме table-direct с настройками кэширования.
func (c *comConnection) OpenTable(tablePath string, opts CursorOptions) (RowCursor, error) {
	if c.closed {
		return nil, fmt.Errorf("connection is closed")
	}

	unknown, err := oleutil.CreateObject("ADODB.RecordSet")
	if err != nil {
		return nil, fmt.Errorf("failed to create ADODB.RecordSet: %w", err)
	}
	rs, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDispatch interface: %w", err)
	}

	if _, err := oleutil.PutPropertyRef(rs, "ActiveConnection", c.dispatch); err != nil {
		rs.Release()
		return nil, fmt.Errorf("failed to bind recordset to connection: %w", err)
	}
	if err := putRecordsetProperty(rs, "Maximum Open Rows", opts.MaxOpenRows); err != nil {
		rs.Release()
		return nil, err
	}
	if err := putRecordsetProperty(rs, "SAS Page Size", opts.PageSize); err != nil {
		rs.Release()
		return nil, err
	}
	if _, err := oleutil.PutProperty(rs, "CacheSize", opts.CacheSize); err != nil {
		rs.Release()
		return nil, fmt.Errorf("failed to set CacheSize: %w", err)
	}

	if _, err := oleutil.CallMethod(rs, "Open", tablePath, nil, adCursorForward, adLockReadOnly, adCmdTableDirect); err != nil {
		rs.Release()
		return nil, fmt.Errorf("failed to open table cursor for %s: %w", tablePath, err)
	}

	cursor := &comRowCursor{recordset: rs, first: true}
	if err := cursor.loadColumns(); err != nil {
		cursor.Close()
		return nil, err
	}
	return cursor, nil
}

func (c *comConnection) Close() error {
	if c.closed {
		return nil
	}
	if _, err := oleutil.CallMethod(c.dispatch, "Close"); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	c.dispatch.Release()
	c.dispatch = nil
	c.closed = true
	return nil
}

// putRecordsetProperty выставляет значение в коллекции Properties рекордсета.
func putRecordsetProperty(rs *ole.IDispatch, name string, value int) error {
	propsVariant, err := oleutil.GetProperty(rs, "Properties", name)
	if err != nil {
		return fmt.Errorf("failed to get recordset property %q: %w", name, err)
	}
	prop := propsVariant.ToIDispatch()
	if prop == nil {
		return fmt.Errorf("recordset property %q is not available", name)
	}
	defer prop.Release()

	if _, err := oleutil.PutProperty(prop, "Value", value); err != nil {
		return fmt.Errorf("failed to set recordset property %q: %w", name, err)
	}
	return nil
}

type comSchemaCursor struct {
	recordset *ole.IDispatch
	first     bool
	closed    bool
}

func (c *comSchemaCursor) Next() (ColumnInfo, bool, error) {
	if c.closed {
		return ColumnInfo{}, false, fmt.Errorf("schema cursor is closed")
	}
	if c.first {
		c.first = false
		// BOF=true на пустом наборе - MoveFirst не нужен и упадет
		bof, err := oleutil.GetProperty(c.recordset, "BOF")
		if err != nil {
			return ColumnInfo{}, false, fmt.Errorf("failed to get BOF: %w", err)
		}
		if bof.Value() == true {
			return ColumnInfo{}, false, nil
		}
		if _, err := oleutil.CallMethod(c.recordset, "MoveFirst"); err != nil {
			return ColumnInfo{}, false, fmt.Errorf("failed to move to first schema row: %w", err)
		}
	} else {
		if _, err := oleutil.CallMethod(c.recordset, "MoveNext"); err != nil {
			return ColumnInfo{}, false, fmt.Errorf("failed to move to next schema row: %w", err)
		}
	}

	eof, err := oleutil.GetProperty(c.recordset, "EOF")
	if err != nil {
		return ColumnInfo{}, false, fmt.Errorf("failed to get EOF: %w", err)
	}
	if eof.Value() == true {
		return ColumnInfo{}, false, nil
	}

	info := ColumnInfo{}
	info.Name, err = fieldString(c.recordset, "COLUMN_NAME")
	if err != nil {
		return ColumnInfo{}, false, err
	}
	info.FormatName, err = fieldString(c.recordset, "FORMAT_NAME")
	if err != nil {
		return ColumnInfo{}, false, err
	}
	info.FormatLength, err = fieldInt(c.recordset, "FORMAT_LENGTH")
	if err != nil {
		return ColumnInfo{}, false, err
	}
	info.FormatDecimal, err = fieldInt(c.recordset, "FORMAT_DECIMAL")
	if err != nil {
		return ColumnInfo{}, false, err
	}
	return info, true, nil
}

func (c *comSchemaCursor) Close() error {
	if c.closed {
		return nil
	}
	if _, err := oleutil.CallMethod(c.recordset, "Close"); err != nil {
		return fmt.Errorf("failed to close schema cursor: %w", err)
	}
	c.recordset.Release()
	c.recordset = nil
	c.closed = true
	return nil
}

type comRowCursor struct {
	recordset *ole.IDispatch
	columns   []string
	first     bool
	closed    bool
}

// loadColumns читает имена колонок из коллекции Fields.
func (c *comRowCursor) loadColumns() error {
	fieldsVariant, err := oleutil.GetProperty(c.recordset, "Fields")
	if err != nil {
		return fmt.Errorf("failed to get Fields collection: %w", err)
	}
	fields := fieldsVariant.ToIDispatch()
	if fields == nil {
		return fmt.Errorf("Fields collection is not available")
	}
	defer fields.Release()

	countVariant, err := oleutil.GetProperty(fields, "Count")
	if err != nil {
		return fmt.Errorf("failed to get Fields count: %w", err)
	}
	count := int(variantToInt(countVariant))

	c.columns = make([]string, 0, count)
	for i := 0; i < count; i++ {
		itemVariant, err := oleutil.GetProperty(fields, "Item", i)
		if err != nil {
			return fmt.Errorf("failed to get field %d: %w", i, err)
		}
		item := itemVariant.ToIDispatch()
		nameVariant, err := oleutil.GetProperty(item, "Name")
		if err != nil {
			item.Release()
			return fmt.Errorf("failed to get field name: %w", err)
		}
		c.columns = append(c.columns, nameVariant.ToString())
		item.Release()
	}
	return nil
}

func (c *comRowCursor) Columns() []string { return c.columns }

func (c *comRowCursor) Next() ([]any, bool, error) {
	if c.closed {
		return nil, false, fmt.Errorf("row cursor is closed")
	}
	if c.first {
		c.first = false
		bof, err := oleutil.GetProperty(c.recordset, "BOF")
		if err != nil {
			return nil, false, fmt.Errorf("failed to get BOF: %w", err)
		}
		if bof.Value() == true {
			return nil, false, nil
		}
		if _, err := oleutil.CallMethod(c.recordset, "MoveFirst"); err != nil {
			return nil, false, fmt.Errorf("failed to move to first row: %w", err)
		}
	} else {
		if _, err := oleutil.CallMethod(c.recordset, "MoveNext"); err != nil {
			return nil, false, fmt.Errorf("failed to move to next row: %w", err)
		}
	}

	eof, err := oleutil.GetProperty(c.recordset, "EOF")
	if err != nil {
		return nil, false, fmt.Errorf("failed to get EOF: %w", err)
	}
	if eof.Value() == true {
		return nil, false, nil
	}

	row := make([]any, len(c.columns))
	for i, name := range c.columns {
		valueVariant, err := oleutil.GetProperty(c.recordset, "Fields", name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get field %s: %w", name, err)
		}
		field := valueVariant.ToIDispatch()
		v, err := oleutil.GetProperty(field, "Value")
		if err != nil {
			field.Release()
			return nil, false, fmt.Errorf("failed to get value of field %s: %w", name, err)
		}
		row[i] = v.Value()
		field.Release()
	}
	return row, true, nil
}

func (c *comRowCursor) Close() error {
	if c.closed {
		return nil
	}
	if _, err := oleutil.CallMethod(c.recordset, "Close"); err != nil {
		return fmt.Errorf("failed to close row cursor: %w", err)
	}
	c.recordset.Release()
	c.recordset = nil
	c.closed = true
	return nil
}

// fieldString читает строковое значение поля текущей строки рекордсета.
func fieldString(rs *ole.IDispatch, name string) (string, error) {
	v, err := recordsetFieldValue(rs, name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

// fieldInt читает целочисленное значение поля текущей строки рекордсета.
func fieldInt(rs *ole.IDispatch, name string) (int, error) {
	v, err := recordsetFieldValue(rs, name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("field %s has unexpected type %T", name, v)
	}
}

func recordsetFieldValue(rs *ole.IDispatch, name string) (any, error) {
	fieldVariant, err := oleutil.GetProperty(rs, "Fields", name)
	if err != nil {
		return nil, fmt.Errorf("failed to get field %s: %w", name, err)
	}
	field := fieldVariant.ToIDispatch()
	if field == nil {
		return nil, fmt.Errorf("field %s is not available", name)
	}
	defer field.Release()

	v, err := oleutil.GetProperty(field, "Value")
	if err != nil {
		return nil, fmt.Errorf("failed to get value of field %s: %w", name, err)
	}
	return v.Value(), nil
}

// variantToBytes конвертирует VARIANT (safe array байт) в []byte.
func variantToBytes(v *ole.VARIANT) []byte {
	switch value := v.Value().(type) {
	case []byte:
		return value
	case string:
		return []byte(value)
	case nil:
		return nil
	default:
		return []byte(fmt.Sprintf("%v", value))
	}
}

// variantToInt конвертирует числовой VARIANT в int64.
func variantToInt(v *ole.VARIANT) int64 {
	switch n := v.Value().(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
