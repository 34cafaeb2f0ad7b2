package schemasync

// TenantSchemaDDL is the application schema injected into the tenant's own
// database. Every statement is idempotent (create-if-not-exists, or
// drop-if-exists followed by create), so the script can be executed an
// unbounded number of times: the retry loop and crash recovery both depend on
// "run again" being equivalent to "no-op if already applied".
const TenantSchemaDDL = `
-- Workspace tables

CREATE TABLE IF NOT EXISTS public.workflows (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  name TEXT NOT NULL DEFAULT 'Untitled Workflow',
  description TEXT,
  state JSONB DEFAULT '{"viewport": {"x": 0, "y": 0, "zoom": 1}}',
  created_at TIMESTAMPTZ DEFAULT now(),
  updated_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS public.nodes (
  id TEXT PRIMARY KEY,
  workflow_id UUID REFERENCES public.workflows(id) ON DELETE CASCADE,
  type TEXT NOT NULL,
  data JSONB NOT NULL,
  position_x FLOAT NOT NULL,
  position_y FLOAT NOT NULL,
  width FLOAT,
  height FLOAT,
  created_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS public.edges (
  id TEXT PRIMARY KEY,
  workflow_id UUID REFERENCES public.workflows(id) ON DELETE CASCADE,
  source TEXT NOT NULL,
  target TEXT NOT NULL,
  source_handle TEXT,
  target_handle TEXT,
  data JSONB,
  created_at TIMESTAMPTZ DEFAULT now()
);

CREATE INDEX IF NOT EXISTS nodes_workflow_id_idx ON public.nodes (workflow_id);
CREATE INDEX IF NOT EXISTS edges_workflow_id_idx ON public.edges (workflow_id);

-- updated_at maintenance

CREATE OR REPLACE FUNCTION public.touch_updated_at()
RETURNS TRIGGER AS $$
BEGIN
  NEW.updated_at = now();
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS workflows_touch_updated_at ON public.workflows;
CREATE TRIGGER workflows_touch_updated_at
  BEFORE UPDATE ON public.workflows
  FOR EACH ROW EXECUTE FUNCTION public.touch_updated_at();

-- Realtime publication membership

DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = 'supabase_realtime') THEN
    CREATE PUBLICATION supabase_realtime;
  END IF;
END $$;

DO $$
DECLARE
  tbl TEXT;
BEGIN
  FOREACH tbl IN ARRAY ARRAY['workflows', 'nodes', 'edges'] LOOP
    IF NOT EXISTS (
      SELECT 1 FROM pg_publication_tables
      WHERE pubname = 'supabase_realtime' AND schemaname = 'public' AND tablename = tbl
    ) THEN
      EXECUTE format('ALTER PUBLICATION supabase_realtime ADD TABLE public.%I', tbl);
    END IF;
  END LOOP;
END $$;

-- Row level security

ALTER TABLE public.workflows ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.nodes ENABLE ROW LEVEL SECURITY;
ALTER TABLE public.edges ENABLE ROW LEVEL SECURITY;

DROP POLICY IF EXISTS "Architect Full Access" ON public.workflows;
CREATE POLICY "Architect Full Access" ON public.workflows FOR ALL TO authenticated USING (true);

DROP POLICY IF EXISTS "Architect Full Access" ON public.nodes;
CREATE POLICY "Architect Full Access" ON public.nodes FOR ALL TO authenticated USING (true);

DROP POLICY IF EXISTS "Architect Full Access" ON public.edges;
CREATE POLICY "Architect Full Access" ON public.edges FOR ALL TO authenticated USING (true);
`

// ResetDDL drops and recreates the tenant's public schema. Used only by the
// explicit user-initiated reset, best-effort.
const ResetDDL = `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`
